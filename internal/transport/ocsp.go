package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/trustedts/internal/log"
)

const (
	contentTypeOCSPRequest  = "application/ocsp-request"
	contentTypeOCSPResponse = "application/ocsp-response"
)

// FetchOCSP asks the OCSP responder named in cert for its status and
// returns the DER response. The response is parsed and its signature
// checked against issuer before it is returned.
func FetchOCSP(ctx context.Context, hc *http.Client, cert, issuer *x509.Certificate) ([]byte, error) {
	if len(cert.OCSPServer) == 0 {
		return nil, fmt.Errorf("certificate %q has no OCSP server", cert.Subject.String())
	}
	if hc == nil {
		hc = NewHTTPClient(DefaultTimeout)
	}
	server := cert.OCSPServer[0]

	reqDER, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(reqDER))
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeOCSPRequest)
	req.Header.Set("Accept", contentTypeOCSPResponse)

	log.GetLogger(ctx).Debugf("fetching OCSP status of serial %s from %s", cert.SerialNumber.Text(16), server)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query OCSP responder: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("OCSP responder returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	body, err := readLimited(resp.Body, DefaultMaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCSP response: %w", err)
	}
	if _, err := ocsp.ParseResponseForCert(body, cert, issuer); err != nil {
		return nil, fmt.Errorf("invalid OCSP response: %w", err)
	}
	return body, nil
}

// FetchChainOCSP fetches OCSP responses for every certificate of chain
// (leaf first) that names an OCSP server. The root is never queried.
func FetchChainOCSP(ctx context.Context, hc *http.Client, chain []*x509.Certificate) ([][]byte, error) {
	var responses [][]byte
	for i := 0; i+1 < len(chain); i++ {
		if len(chain[i].OCSPServer) == 0 {
			continue
		}
		raw, err := FetchOCSP(ctx, hc, chain[i], chain[i+1])
		if err != nil {
			return nil, err
		}
		responses = append(responses, raw)
	}
	return responses, nil
}
