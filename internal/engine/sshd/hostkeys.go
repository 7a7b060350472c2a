package sshd

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/hollowport/hollowport/internal/logging"
)

// loadHostKeys returns one signer per offered host key algorithm. Keys are
// persisted as PEM under dir so the host identity survives restarts; if the
// directory cannot be used the keys are regenerated in memory and the decoy
// keeps running with a changing identity.
func loadHostKeys(dir string) ([]ssh.Signer, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		logging.Error("[SSH] Cannot create host key dir %s, using in-memory keys: %v", dir, err)
		dir = ""
	}

	type keySpec struct {
		file string
		gen  func() (interface{}, *pem.Block, error)
	}
	specs := []keySpec{
		{"rsa_host_key.pem", generateRSA},
		{"ecdsa_host_key.pem", generateECDSA},
		{"ed25519_host_key.pem", generateEd25519},
	}

	var signers []ssh.Signer
	for _, spec := range specs {
		signer, err := loadOrCreate(dir, spec.file, spec.gen)
		if err != nil {
			return nil, fmt.Errorf("host key %s: %w", spec.file, err)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func loadOrCreate(dir, file string, gen func() (interface{}, *pem.Block, error)) (ssh.Signer, error) {
	if dir != "" {
		path := filepath.Join(dir, file)
		if data, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(data)
			if err == nil {
				return signer, nil
			}
			logging.Error("[SSH] Corrupt host key %s, regenerating: %v", path, err)
		}
	}

	key, block, err := gen()
	if err != nil {
		return nil, err
	}

	if dir != "" {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
			logging.Error("[SSH] Cannot persist host key %s, keeping in memory: %v", path, err)
		}
	}

	return ssh.NewSignerFromKey(key)
}

func generateRSA() (interface{}, *pem.Block, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, block, nil
}

func generateECDSA() (interface{}, *pem.Block, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	return key, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}, nil
}

func generateEd25519() (interface{}, *pem.Block, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	return key, &pem.Block{Type: "PRIVATE KEY", Bytes: der}, nil
}
