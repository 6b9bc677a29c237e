package x509util

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// EncodeCertificatesPEM encodes certificates as consecutive PEM blocks.
func EncodeCertificatesPEM(certs []*x509.Certificate) []byte {
	var result []byte
	for _, cert := range certs {
		result = append(result, pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		})...)
	}
	return result
}

// DecodeCertificatesPEM decodes every CERTIFICATE block of data. Data
// without any PEM block is tried as a single DER certificate.
func DecodeCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	sawPEM := false

	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		sawPEM = true
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		data = rest
	}

	if !sawPEM && len(data) > 0 {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// LoadCertificates reads all certificates from a PEM or DER file.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	certs, err := DecodeCertificatesPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in %s", path)
	}
	return certs, nil
}

// LoadCertificate reads the first certificate of a PEM or DER file.
func LoadCertificate(path string) (*x509.Certificate, error) {
	certs, err := LoadCertificates(path)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// LoadCSR reads a PKCS#10 certificate request from a PEM or DER file.
func LoadCSR(path string) (*x509.CertificateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSR file: %w", err)
	}
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
			return nil, fmt.Errorf("unexpected PEM type %q in %s", block.Type, path)
		}
		der = block.Bytes
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	return csr, nil
}

// WriteCertificatesPEM writes certificates to a PEM file.
func WriteCertificatesPEM(path string, certs []*x509.Certificate) error {
	if err := os.WriteFile(path, EncodeCertificatesPEM(certs), 0644); err != nil {
		return fmt.Errorf("failed to write certificates: %w", err)
	}
	return nil
}
