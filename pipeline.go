package goBankAuth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/publicsuffix"

	"github.com/MrEthical07/goBankAuth/internal"
)

type transportState uint8

const (
	transportUninitialized transportState = iota
	transportReady
)

var (
	errTooManyRedirects    = errors.New("too many redirects")
	errResponseTooLarge    = errors.New("response body exceeds limit")
	errUnsupportedEncoding = errors.New("unsupported content encoding")
)

// reservedHeaders are owned by the pipeline; callers cannot override them.
var reservedHeaders = map[string]struct{}{
	"Authorization":    {},
	"Accept":           {},
	"Accept-Language":  {},
	"Accept-Encoding":  {},
	"Connection":       {},
	"Proxy-Connection": {},
	"User-Agent":       {},
	"Content-Type":     {},
	"Content-Length":   {},
	"Cookie":           {},
	"Host":             {},
}

// pipeline owns the cookie jar and HTTP client of one session. The pair
// exists only in transportReady; reset drops both.
type pipeline struct {
	cfg      TransportConfig
	endpoint *url.URL
	base     http.RoundTripper
	newDSID  func() (string, error)

	state  transportState
	jar    *cookiejar.Jar
	client *http.Client
	owned  *http.Transport
}

type exchange struct {
	status   int
	header   http.Header
	body     []byte
	reqBody  []byte
	duration time.Duration
}

func newPipeline(cfg TransportConfig, endpoint string, base http.RoundTripper) (*pipeline, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", ErrPrecondition, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q is not absolute", ErrPrecondition, endpoint)
	}
	return &pipeline{
		cfg:      cfg,
		endpoint: u,
		base:     base,
		newDSID:  internal.NewDSID,
	}, nil
}

func (p *pipeline) ready() bool {
	return p.state == transportReady
}

func (p *pipeline) ensureReady() error {
	if p.state == transportReady {
		return nil
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}

	rt := p.base
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: p.cfg.SkipTLSVerify}
		tr.DisableCompression = true
		p.owned = tr
		rt = tr
	}

	maxRedirects := p.cfg.MaxRedirects
	p.jar = jar
	p.client = &http.Client{
		Transport: rt,
		Jar:       jar,
		Timeout:   p.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
			}
			if len(via) > 0 {
				req.Header.Set("Referer", via[len(via)-1].URL.String())
			}
			return nil
		},
	}
	p.state = transportReady
	return nil
}

func (p *pipeline) reset() {
	if p.owned != nil {
		p.owned.CloseIdleConnections()
		p.owned = nil
	}
	p.jar = nil
	p.client = nil
	p.state = transportUninitialized
}

func (p *pipeline) cookies() []*http.Cookie {
	if p.state != transportReady {
		return nil
	}
	return p.jar.Cookies(p.endpoint)
}

func (p *pipeline) resolve(path string, query url.Values, dsid string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: path %q: %v", ErrPrecondition, path, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("%w: path %q leaves the api root", ErrPrecondition, path)
	}
	ref.Path = strings.TrimLeft(ref.Path, "/")
	ref.RawPath = strings.TrimLeft(ref.RawPath, "/")
	u := p.endpoint.ResolveReference(ref)

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("dsid", dsid)
	u.RawQuery = q.Encode()
	return u, nil
}

// send performs one exchange. Only transport failures are errors here;
// status classification is left to the session.
func (p *pipeline) send(ctx context.Context, req Request, authorization, userAgent string) (*exchange, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}

	dsid, err := p.newDSID()
	if err != nil {
		return nil, fmt.Errorf("dsid: %w", err)
	}

	u, err := p.resolve(req.Path, req.Query, dsid)
	if err != nil {
		return nil, err
	}
	p.jar.SetCookies(p.endpoint, []*http.Cookie{{Name: "dsid", Value: dsid, Path: "/"}})

	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: request body: %v", ErrPrecondition, err)
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPrecondition, err)
	}

	for k, vs := range req.Header {
		if _, ok := reservedHeaders[http.CanonicalHeaderKey(k)]; ok {
			continue
		}
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", authorization)
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("Accept-Language", "sv-se")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Proxy-Connection", "keep-alive")
	httpReq.Header.Set("User-Agent", userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := readBody(resp, p.cfg.MaxResponseBytes)
	if err != nil {
		if errors.Is(err, errResponseTooLarge) || errors.Is(err, errUnsupportedEncoding) {
			return nil, &UnexpectedResponseError{Operation: method + " " + req.Path, Err: err}
		}
		return nil, &TransportError{Method: method, Path: req.Path, Err: err}
	}

	return &exchange{
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     data,
		reqBody:  payload,
		duration: time.Since(start),
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		dr, err := deflateReader(resp.Body)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer dr.Close()
		r = dr
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, resp.Header.Get("Content-Encoding"))
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", errResponseTooLarge, limit)
	}
	return data, nil
}

// deflateReader accepts both zlib-wrapped and raw deflate streams; servers
// disagree on what "deflate" means.
func deflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if len(head) == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
