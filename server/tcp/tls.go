// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/absmach/mqttd/config"
)

// TLS resolution errors. Missing-file and unparsable-content conditions
// are kept distinct per material kind.
var (
	ErrServerCertRequired = errors.New("server cert not provided")
	ErrServerKeyRequired  = errors.New("server private key not provided")
	ErrCAFileNotFound     = errors.New("CA file not found")
	ErrServerCertNotFound = errors.New("server cert file not found")
	ErrServerKeyNotFound  = errors.New("server private key file not found")
	ErrInvalidCACert      = errors.New("invalid CA cert file")
	ErrInvalidServerCert  = errors.New("invalid server cert file")
	ErrInvalidServerKey   = errors.New("invalid server key file")
)

// tlsBackend resolves listener settings into a TLS configuration, or nil
// when the listener should run in plaintext. Resolution happens once per
// listener; the result is shared by every accepted connection.
type tlsBackend interface {
	Resolve(settings config.ServerSettings) (*tls.Config, error)
}

// selectTLSBackend picks the backend matching the configured material.
func selectTLSBackend(settings config.ServerSettings) tlsBackend {
	if settings.PKCS12Path != "" {
		return pkcs12Backend{}
	}
	return pemBackend{}
}

// pemBackend builds an acceptor from PEM certificate and key files. A CA
// path additionally enables mutual authentication: clients without a
// trust-chain-verifiable certificate fail the TLS handshake.
type pemBackend struct{}

func (pemBackend) Resolve(settings config.ServerSettings) (*tls.Config, error) {
	if settings.CertPath == "" {
		return nil, nil
	}
	if settings.KeyPath == "" {
		return nil, ErrServerKeyRequired
	}

	certPEM, err := os.ReadFile(settings.CertPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerCertNotFound, settings.CertPath)
	}
	if !containsPEMBlock(certPEM, "CERTIFICATE") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidServerCert, settings.CertPath)
	}

	keyPEM, err := os.ReadFile(settings.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerKeyNotFound, settings.KeyPath)
	}
	if !containsPEMBlock(keyPEM, "PRIVATE KEY") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidServerKey, settings.KeyPath)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidServerKey, settings.KeyPath, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if settings.CAPath != "" {
		caPEM, err := os.ReadFile(settings.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCAFileNotFound, settings.CAPath)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCACert, settings.CAPath)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// pkcs12Backend builds an acceptor from a PKCS#12 bundle and passphrase.
type pkcs12Backend struct{}

func (pkcs12Backend) Resolve(settings config.ServerSettings) (*tls.Config, error) {
	if settings.PKCS12Path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(settings.PKCS12Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerCertNotFound, settings.PKCS12Path)
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, settings.PKCS12Pass)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidServerCert, settings.PKCS12Path, err)
	}

	identity := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	for _, c := range chain {
		identity.Certificate = append(identity.Certificate, c.Raw)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{identity},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// containsPEMBlock reports whether data holds at least one PEM block whose
// type ends with the given suffix ("PRIVATE KEY" matches RSA/EC variants).
func containsPEMBlock(data []byte, typeSuffix string) bool {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return false
		}
		if len(block.Type) >= len(typeSuffix) && block.Type[len(block.Type)-len(typeSuffix):] == typeSuffix {
			return true
		}
	}
	return false
}
