// Package testcert generates short-lived self-signed certificates for tests
// and local runs.
package testcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Pair is a PEM encoded certificate and its private key.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte

	leaf *x509.Certificate
}

// Generate creates a self-signed certificate valid for the given host names
// and IP addresses. With no hosts it is valid for localhost and 127.0.0.1.
func Generate(commonName string, hosts ...string) (*Pair, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}

	return &Pair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		leaf:    leaf,
	}, nil
}

// MustGenerate is like Generate but panics on error.
func MustGenerate(commonName string, hosts ...string) *Pair {
	p, err := Generate(commonName, hosts...)
	if err != nil {
		panic(fmt.Sprintf("testcert: %v", err))
	}
	return p
}

// Leaf returns the parsed certificate.
func (p *Pair) Leaf() *x509.Certificate {
	return p.leaf
}

// Pool returns a pool that trusts only this certificate.
func (p *Pair) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.leaf)
	return pool
}

// ClientTLSConfig returns a client config trusting this certificate.
func (p *Pair) ClientTLSConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		RootCAs:    p.Pool(),
		ServerName: "localhost",
		NextProtos: nextProtos,
	}
}
