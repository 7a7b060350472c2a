package honeytoken

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Username pools. The point is to not look generated: plain admin-style
// names, service accounts, and person-style handles, each with a numeric
// suffix so collisions stay unlikely.
var (
	adminWords   = []string{"admin", "root", "sysadmin", "operator", "manager", "support", "webmaster"}
	serviceWords = []string{"backup", "deploy", "jenkins", "gitlab", "monitor", "report", "billing", "svc"}
	personWords  = []string{"jsmith", "mwilson", "akhan", "lchen", "dmorris", "pgarcia", "tnovak", "rbecker"}
)

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&*+-=?@_~"

// GenerateUsername draws a realistic-looking decoy username.
func GenerateUsername() (string, error) {
	style, err := randInt(3)
	if err != nil {
		return "", err
	}

	switch style {
	case 0:
		w, err := pick(adminWords)
		if err != nil {
			return "", err
		}
		n, err := randInt(100)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%02d", w, n), nil
	case 1:
		w, err := pick(serviceWords)
		if err != nil {
			return "", err
		}
		n, err := randInt(1000)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s_%d", w, n), nil
	default:
		w, err := pick(personWords)
		if err != nil {
			return "", err
		}
		n, err := randInt(100)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%d", w, n), nil
	}
}

// GeneratePassword draws length cryptographically random characters from a
// wide printable set.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = 24
	}
	out := make([]byte, length)
	for i := range out {
		n, err := randInt(len(passwordCharset))
		if err != nil {
			return "", err
		}
		out[i] = passwordCharset[n]
	}
	return string(out), nil
}

func pick(words []string) (string, error) {
	n, err := randInt(len(words))
	if err != nil {
		return "", err
	}
	return words[n], nil
}

func randInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
