package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/honeytoken"
	"github.com/hollowport/hollowport/internal/model"
)

var dbPath string
var db *sql.DB

func initDB() {
	var err error
	db, err = sql.Open("sqlite3", dbPath)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	cobra.OnInitialize(initDB)

	rootCmd := &cobra.Command{
		Use:   "hollowport-cli",
		Short: "Hollowport CLI - Events, Incidents and Honeytokens",
		Long: `Hollowport CLI inspects and manages the correlation database.
Query captured events, work incidents, and plant honeytoken credentials.`,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "data/hollowport.db", "path to sqlite database")

	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Query captured events",
	}
	eventCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List recent events", Run: listEvents},
		&cobra.Command{Use: "view [id]", Short: "View event details", Args: cobra.ExactArgs(1), Run: viewEvent},
		&cobra.Command{Use: "by-ip [ip]", Short: "Events from IP", Args: cobra.ExactArgs(1), Run: eventsByIP},
	)

	incidentCmd := &cobra.Command{
		Use:   "incident",
		Short: "Manage incidents",
	}
	incidentCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List recent incidents", Run: listIncidents},
		&cobra.Command{Use: "view [id]", Short: "View incident details", Args: cobra.ExactArgs(1), Run: viewIncident},
		&cobra.Command{Use: "set-status [id] [status]", Short: "Set incident status (NEW|INVESTIGATING|RESOLVED|IGNORED)", Args: cobra.ExactArgs(2), Run: setIncidentStatus},
		&cobra.Command{Use: "stats", Short: "Incident statistics", Run: incidentStats},
	)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage honeytoken credentials",
	}
	tokenCmd.AddCommand(
		&cobra.Command{Use: "generate [service-type] [count]", Short: "Generate decoy credentials", Args: cobra.RangeArgs(1, 2), Run: generateTokens},
		&cobra.Command{Use: "list", Short: "List planted credentials", Run: listTokens},
		&cobra.Command{Use: "triggered", Short: "List credentials seen in traffic", Run: triggeredTokens},
	)

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}
	dbCmd.AddCommand(
		&cobra.Command{Use: "stats", Short: "Database statistics", Run: dbStats},
	)

	rootCmd.AddCommand(eventCmd, incidentCmd, tokenCmd, dbCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// ============== EVENT COMMANDS ==============

func listEvents(cmd *cobra.Command, args []string) {
	rows, err := db.Query(`
		SELECT id, honeypot_id, incident_id, event_type, level, source_ip, timestamp
		FROM events ORDER BY timestamp DESC LIMIT 50
	`)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHONEYPOT\tINCIDENT\tTYPE\tLEVEL\tSOURCE IP\tTIMESTAMP")

	count := 0
	for rows.Next() {
		var id, honeypotID, eventType, sourceIP, timestamp string
		var incidentID sql.NullString
		var level int
		rows.Scan(&id, &honeypotID, &incidentID, &eventType, &level, &sourceIP, &timestamp)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", shortID(id), honeypotID, shortID(incidentID.String), eventType, level, sourceIP, timestamp)
		count++
	}
	w.Flush()
	fmt.Printf("\nTotal: %d events\n", count)
}

func viewEvent(cmd *cobra.Command, args []string) {
	var id, honeypotID, eventType, sourceIP, details, timestamp string
	var incidentID, honeytokenID sql.NullString
	var level int

	err := db.QueryRow(`
		SELECT id, honeypot_id, incident_id, event_type, level, source_ip, honeytoken_id, details, timestamp
		FROM events WHERE id = ? OR id LIKE ?
	`, args[0], args[0]+"%").Scan(&id, &honeypotID, &incidentID, &eventType, &level, &sourceIP, &honeytokenID, &details, &timestamp)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf(`
Event %s
=========
Honeypot:        %s
Incident:        %s
Type:            %s
Level:           %d
Source IP:       %s
Honeytoken:      %s
Timestamp:       %s
Details:         %s
`, id, honeypotID, incidentID.String, eventType, level, sourceIP, honeytokenID.String, timestamp, details)
}

func eventsByIP(cmd *cobra.Command, args []string) {
	rows, err := db.Query(`
		SELECT id, event_type, level, timestamp
		FROM events WHERE source_ip = ? ORDER BY timestamp DESC LIMIT 100
	`, args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Events from %s\n", args[0])
	fmt.Fprintln(w, "ID\tTYPE\tLEVEL\tTIMESTAMP")

	count := 0
	for rows.Next() {
		var id, eventType, timestamp string
		var level int
		rows.Scan(&id, &eventType, &level, &timestamp)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", shortID(id), eventType, level, timestamp)
		count++
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", count)
}

// ============== INCIDENT COMMANDS ==============

func listIncidents(cmd *cobra.Command, args []string) {
	rows, err := db.Query(`
		SELECT id, honeypot_id, source_ip, threat_level, status, event_count, last_seen
		FROM incidents ORDER BY last_seen DESC LIMIT 50
	`)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHONEYPOT\tSOURCE IP\tLEVEL\tSTATUS\tEVENTS\tLAST SEEN")

	count := 0
	for rows.Next() {
		var id, honeypotID, sourceIP, status, lastSeen string
		var level, events int
		rows.Scan(&id, &honeypotID, &sourceIP, &level, &status, &events, &lastSeen)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n", shortID(id), honeypotID, sourceIP, level, status, events, lastSeen)
		count++
	}
	w.Flush()
	fmt.Printf("\nTotal: %d incidents\n", count)
}

func viewIncident(cmd *cobra.Command, args []string) {
	var id, honeypotID, sourceIP, status, firstSeen, lastSeen string
	var level, events int

	err := db.QueryRow(`
		SELECT id, honeypot_id, source_ip, threat_level, status, event_count, first_seen, last_seen
		FROM incidents WHERE id = ? OR id LIKE ?
	`, args[0], args[0]+"%").Scan(&id, &honeypotID, &sourceIP, &level, &status, &events, &firstSeen, &lastSeen)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf(`
Incident %s
=========
Honeypot:        %s
Source IP:       %s
Threat Level:    %d
Status:          %s
Event Count:     %d
First Seen:      %s
Last Seen:       %s
`, id, honeypotID, sourceIP, level, status, events, firstSeen, lastSeen)

	rows, err := db.Query(`
		SELECT id, event_type, level, timestamp FROM events
		WHERE incident_id = ? ORDER BY timestamp ASC
	`, id)
	if err != nil {
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nEVENT\tTYPE\tLEVEL\tTIMESTAMP")
	for rows.Next() {
		var eid, eventType, timestamp string
		var elevel int
		rows.Scan(&eid, &eventType, &elevel, &timestamp)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", shortID(eid), eventType, elevel, timestamp)
	}
	w.Flush()
}

func setIncidentStatus(cmd *cobra.Command, args []string) {
	status := args[1]
	if !model.ValidStatus(status) {
		fmt.Printf("Invalid status %q (want NEW, INVESTIGATING, RESOLVED or IGNORED)\n", status)
		return
	}

	res, err := db.Exec(`UPDATE incidents SET status = ? WHERE id = ? OR id LIKE ?`, status, args[0], args[0]+"%")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		fmt.Printf("No incident matching %q\n", args[0])
		return
	}
	fmt.Printf("Updated %d incident(s) to %s\n", n, status)
}

func incidentStats(cmd *cobra.Command, args []string) {
	var total, open, critical int
	var uniqueIPs int

	db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT source_ip) FROM incidents`).Scan(&total, &uniqueIPs)
	db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE status IN ('NEW', 'INVESTIGATING')`).Scan(&open)
	db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE threat_level >= 3`).Scan(&critical)

	fmt.Printf(`
Incident Statistics
====================
Total Incidents:     %d
Open Incidents:      %d
Critical Incidents:  %d
Unique Sources:      %d
`, total, open, critical, uniqueIPs)
}

// ============== TOKEN COMMANDS ==============

func generateTokens(cmd *cobra.Command, args []string) {
	count := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			fmt.Printf("Invalid count %q\n", args[1])
			return
		}
		count = n
	}

	store, err := database.NewSQLiteDB(&config.DatabaseConfig{Path: dbPath})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer store.Close()

	creds, err := honeytoken.NewStore(store).Generate(args[0], "", count, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tPASSWORD\tSERVICE")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(c.ID), c.Username, c.Password, c.ServiceType)
	}
	w.Flush()
	fmt.Printf("\nGenerated %d credential(s)\n", len(creds))
}

func listTokens(cmd *cobra.Command, args []string) {
	rows, err := db.Query(`
		SELECT id, username, service_type, generated_at, used_at
		FROM credentials ORDER BY generated_at DESC LIMIT 100
	`)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tSERVICE\tGENERATED\tUSED")

	count := 0
	for rows.Next() {
		var id, username, serviceType, generatedAt string
		var usedAt sql.NullString
		rows.Scan(&id, &username, &serviceType, &generatedAt, &usedAt)
		used := "-"
		if usedAt.Valid {
			used = usedAt.String
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(id), username, serviceType, generatedAt, used)
		count++
	}
	w.Flush()
	fmt.Printf("\nTotal: %d credentials\n", count)
}

func triggeredTokens(cmd *cobra.Command, args []string) {
	rows, err := db.Query(`
		SELECT id, username, service_type, used_at
		FROM credentials WHERE used_at IS NOT NULL ORDER BY used_at DESC
	`)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tSERVICE\tFIRST USE")

	count := 0
	for rows.Next() {
		var id, username, serviceType, usedAt string
		rows.Scan(&id, &username, &serviceType, &usedAt)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(id), username, serviceType, usedAt)
		count++
	}
	w.Flush()
	fmt.Printf("\nTotal: %d triggered\n", count)
}

// ============== DB COMMANDS ==============

func dbStats(cmd *cobra.Command, args []string) {
	var events, incidents, credentials, triggered int

	db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&events)
	db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&incidents)
	db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&credentials)
	db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE used_at IS NOT NULL`).Scan(&triggered)

	fmt.Printf(`
Database Statistics
====================
Events:              %d
Incidents:           %d
Credentials:         %d
Triggered Tokens:    %d
`, events, incidents, credentials, triggered)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
