package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/remiblancher/trustedts/pkg/tsp"
)

// WriteRequestInfo prints the fields of a request.
func WriteRequestInfo(w io.Writer, req *tsp.Request) {
	_, _ = fmt.Fprintln(w, "Timestamp Request:")
	_, _ = fmt.Fprintf(w, "  Imprint:      %s\n", req.Digest.String())
	_, _ = fmt.Fprintf(w, "  Cert Req:     %v\n", req.CertReq)
	if req.Nonce != nil {
		_, _ = fmt.Fprintf(w, "  Nonce:        0x%s\n", req.Nonce.Text(16))
	}
	if len(req.Policy) > 0 {
		_, _ = fmt.Fprintf(w, "  Policy:       %s\n", req.Policy.String())
	}
}

// WriteRejection prints the status of a rejected response. It returns
// false when err does not describe a rejection.
func WriteRejection(w io.Writer, err error) bool {
	var rej *tsp.RejectedError
	if !errors.As(err, &rej) {
		return false
	}
	_, _ = fmt.Fprintln(w, "Timestamp Response:")
	_, _ = fmt.Fprintf(w, "  Status:       %s\n", FormatStatus(tsp.StatusName(rej.Status)))
	if len(rej.FailureInfo) > 0 {
		_, _ = fmt.Fprintf(w, "  Failure:      %s\n", strings.Join(rej.FailureInfo, ", "))
	}
	if len(rej.Text) > 0 {
		_, _ = fmt.Fprintf(w, "  Text:         %s\n", strings.Join(rej.Text, "; "))
	}
	return true
}

// WriteResponseInfo prints the status and TSTInfo of a granted response.
func WriteResponseInfo(w io.Writer, resp *tsp.Response) {
	_, _ = fmt.Fprintln(w, "Timestamp Response:")
	_, _ = fmt.Fprintf(w, "  Status:       %s\n", FormatStatus(resp.StatusString()))
	if s := resp.FailureString(); s != "" {
		_, _ = fmt.Fprintf(w, "  Text:         %s\n", s)
	}
	WriteTokenInfo(w, resp.Token)
}

// WriteTokenInfo prints the TSTInfo fields and embedded certificates of
// a token.
func WriteTokenInfo(w io.Writer, tok *tsp.Token) {
	_, _ = fmt.Fprintln(w, "\nTimestamp Token:")
	_, _ = fmt.Fprintf(w, "  Version:      %d\n", tok.Version)
	_, _ = fmt.Fprintf(w, "  Serial:       0x%s\n", tok.SerialNumber.Text(16))
	_, _ = fmt.Fprintf(w, "  Gen Time:     %s\n", tok.GenTime.Format(time.RFC3339Nano))
	if tok.GenTimeRaw != "" {
		_, _ = fmt.Fprintf(w, "  Encoded:      %s\n", tok.GenTimeRaw)
	}
	_, _ = fmt.Fprintf(w, "  Policy:       %s\n", tok.Policy.String())
	if d, err := tok.Digest(); err == nil {
		_, _ = fmt.Fprintf(w, "  Imprint:      %s\n", d.String())
	}
	if !tok.Accuracy.IsZero() {
		_, _ = fmt.Fprintf(w, "  Accuracy:     %s\n", tok.Accuracy.Duration())
	}
	_, _ = fmt.Fprintf(w, "  Ordering:     %v\n", tok.Ordering)
	if tok.Nonce != nil {
		_, _ = fmt.Fprintf(w, "  Nonce:        0x%s\n", tok.Nonce.Text(16))
	}
	if tok.TSAName != "" {
		_, _ = fmt.Fprintf(w, "  TSA Name:     %s\n", tok.TSAName)
	}
	for i, c := range tok.Certificates {
		_, _ = fmt.Fprintf(w, "  Certificate %d: %s\n", i, describeCert(c))
	}
}

// WriteResult prints the outcome of a successful validation.
func WriteResult(w io.Writer, res *tsp.Result) {
	_, _ = fmt.Fprintf(w, "Verification: %s\n", FormatStatus("verified"))
	_, _ = fmt.Fprintf(w, "  Gen Time:     %s\n", res.GenTime.Format(time.RFC3339Nano))
	_, _ = fmt.Fprintf(w, "  Signer:       %s\n", res.SignerCert.Subject.String())
	for i, c := range res.Chain {
		_, _ = fmt.Fprintf(w, "  Chain %d:      %s\n", i, describeCert(c))
	}
}

// WriteFailure prints a validation failure together with its kind.
func WriteFailure(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Verification: %s\n", FormatStatus("failed"))
	_, _ = fmt.Fprintf(w, "  Kind:         %s\n", tsp.KindOf(err))
	_, _ = fmt.Fprintf(w, "  Error:        %v\n", err)
}

func describeCert(c *x509.Certificate) string {
	return fmt.Sprintf("%s (serial 0x%s, %s to %s)", c.Subject.String(), c.SerialNumber.Text(16),
		c.NotBefore.UTC().Format("2006-01-02"), c.NotAfter.UTC().Format("2006-01-02"))
}
