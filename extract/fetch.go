package extract

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	tls2 "github.com/refraction-networking/utls"

	"github.com/use-agent/harvest/apperr"
)

// fetcher performs static-mode HTTP requests with a Chrome TLS fingerprint
// (utls), so plain fetches are less distinguishable from real browsers.
type fetcher struct {
	maxBodyBytes int
}

// fetch retrieves the URL and returns the body, capped at maxBodyBytes.
// hdrs (typically the fingerprint bundle's headers) are applied on top of
// browser-like defaults.
func (f *fetcher) fetch(ctx context.Context, targetURL string, hdrs map[string]string) ([]byte, error) {
	transport := &http.Transport{
		DialTLSContext: dialTLSChrome,
	}

	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid URL", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.From(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.KindBrowser,
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode), nil).
			WithUpstreamStatus(resp.StatusCode)
	}

	// Read one byte past the cap so an exact-size body is not rejected.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBodyBytes)+1))
	if err != nil {
		return nil, apperr.From(err)
	}
	if len(body) > f.maxBodyBytes {
		return nil, apperr.New(apperr.KindResponseTooLarge,
			"response body exceeds configured maximum", nil).
			WithDetails(fmt.Sprintf("cap is %d bytes", f.maxBodyBytes))
	}

	return body, nil
}

// dialTLSChrome establishes a TLS connection with a Chrome ClientHello.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName: host,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
