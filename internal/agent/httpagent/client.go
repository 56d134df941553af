package httpagent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// maxRedirects bounds redirect chains.
const maxRedirects = 10

var (
	ErrInvalidProxyURL   = errors.New("invalid proxy URL")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
)

// NewClient returns a client for transfers. An empty proxyURL uses the
// HTTP_PROXY/HTTPS_PROXY/NO_PROXY environment. A socks5:// proxy is dialed
// directly. headerTimeout bounds the wait for response headers only, so long
// bodies are not cut off.
func NewClient(proxyURL string, headerTimeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	if proxyURL == "" {
		transport.Proxy = proxyFunc(httpproxy.FromEnvironment())
	} else {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, ErrInvalidProxyURL
		}
		switch parsed.Scheme {
		case "http", "https":
			env := httpproxy.FromEnvironment()
			transport.Proxy = proxyFunc(&httpproxy.Config{
				HTTPProxy:  proxyURL,
				HTTPSProxy: proxyURL,
				NoProxy:    env.NoProxy,
			})
		case "socks5":
			var auth *proxy.Auth
			if parsed.User != nil {
				pass, _ := parsed.User.Password()
				auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
			}
			dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
			if err != nil {
				return nil, err
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			return nil, ErrUnsupportedScheme
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}, nil
}

func proxyFunc(cfg *httpproxy.Config) func(*http.Request) (*url.URL, error) {
	fn := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return fn(req.URL)
	}
}
