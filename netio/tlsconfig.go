package netio

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TLSMaterial is the trust anchors and optional client identity for one
// credential slot (CUPS or TC, REG/BAK/BOOT), matching the credential
// store's per-slot (trust anchors, client cert, client key) shape.
type TLSMaterial struct {
	TrustedCAs     [][]byte
	ClientCertPEM  []byte
	ClientKeyPEM   []byte
	ServerNameOverride string
}

// BuildConfig turns a TLSMaterial into a *tls.Config. No Non-goal bars
// this: spec §1 explicitly leaves TLS's implementation to a vetted
// library (crypto/tls), only the surrounding adapter is ours.
func (m *TLSMaterial) BuildConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if len(m.TrustedCAs) > 0 {
		pool := x509.NewCertPool()
		for _, ca := range m.TrustedCAs {
			if !pool.AppendCertsFromPEM(ca) {
				return nil, fmt.Errorf("failed to parse trusted CA certificate")
			}
		}
		cfg.RootCAs = pool
	}

	if len(m.ClientCertPEM) > 0 && len(m.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(m.ClientCertPEM, m.ClientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if m.ServerNameOverride != "" {
		cfg.ServerName = m.ServerNameOverride
	}

	return cfg, nil
}
