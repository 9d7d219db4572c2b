package peersync

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/peerplot/peerplot/internal/config"
	"golang.org/x/crypto/pkcs12"
)

// ErrCredential marks a failure to load the replication identity or CA.
var ErrCredential = errors.New("sync credentials unavailable")

// Credentials are the client identity and trust anchor for mutually
// authenticated replication.
type Credentials struct {
	Certificate tls.Certificate
	CAPool      *x509.CertPool
}

// CommonName returns the subject common name of the identity certificate.
func (c *Credentials) CommonName() string {
	if c.Certificate.Leaf != nil {
		return c.Certificate.Leaf.Subject.CommonName
	}
	if len(c.Certificate.Certificate) == 0 {
		return ""
	}
	leaf, err := x509.ParseCertificate(c.Certificate.Certificate[0])
	if err != nil {
		return ""
	}
	return leaf.Subject.CommonName
}

// ServerTLS returns a listener config that only accepts peers presenting a
// certificate signed by the CA.
func (c *Credentials) ServerTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{c.Certificate},
		ClientCAs:    c.CAPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
}

// ClientTLS returns a dialer config that presents the identity and trusts
// only the CA.
func (c *Credentials) ClientTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{c.Certificate},
		RootCAs:      c.CAPool,
	}
}

// CredentialSource produces credentials. Acquire may block on I/O and is
// always called off the caller's goroutine by Bootstrap.
type CredentialSource interface {
	Acquire(ctx context.Context) (*Credentials, error)
}

// FileSource loads the identity from a PKCS#12 bundle, or from a PEM
// certificate and key pair when IdentityFile is empty. The CA file may be
// DER or PEM.
type FileSource struct {
	IdentityFile     string
	IdentityPassword string
	CertFile         string
	KeyFile          string
	CAFile           string
}

func FileSourceFromConfig(cfg config.SyncConfig) *FileSource {
	return &FileSource{
		IdentityFile:     cfg.IdentityFile,
		IdentityPassword: cfg.IdentityPassword,
		CertFile:         cfg.CertFile,
		KeyFile:          cfg.KeyFile,
		CAFile:           cfg.CAFile,
	}
}

func (s *FileSource) Acquire(ctx context.Context) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	cert, err := s.identity()
	if err != nil {
		return nil, fmt.Errorf("%w: identity: %v", ErrCredential, err)
	}
	pool, err := loadCAPool(s.CAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: ca: %v", ErrCredential, err)
	}
	return &Credentials{Certificate: cert, CAPool: pool}, nil
}

func (s *FileSource) identity() (tls.Certificate, error) {
	if s.IdentityFile != "" {
		data, err := os.ReadFile(s.IdentityFile)
		if err != nil {
			return tls.Certificate{}, err
		}
		key, leaf, err := pkcs12.Decode(data, s.IdentityPassword)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decode %s: %w", s.IdentityFile, err)
		}
		return tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: key, Leaf: leaf}, nil
	}
	if s.CertFile == "" || s.KeyFile == "" {
		return tls.Certificate{}, errors.New("no identity configured")
	}
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	if cert.Leaf == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, errors.New("no CA certificate configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if block, _ := pem.Decode(data); block != nil {
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates in %s", path)
		}
		return pool, nil
	}
	ca, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	pool.AddCert(ca)
	return pool, nil
}
