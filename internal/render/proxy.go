package render

import (
	"strings"

	"golang.org/x/net/http/httpproxy"
)

// ProxySettings is the browser proxy configuration.
type ProxySettings struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// resolveProxy falls back to HTTP_PROXY/HTTPS_PROXY/NO_PROXY when no proxy
// is configured explicitly.
func resolveProxy(p ProxySettings) ProxySettings {
	if p.HTTPProxy != "" || p.HTTPSProxy != "" {
		return p
	}

	env := httpproxy.FromEnvironment()
	return ProxySettings{
		HTTPProxy:  env.HTTPProxy,
		HTTPSProxy: env.HTTPSProxy,
		NoProxy:    env.NoProxy,
	}
}

// proxyFlags converts proxy settings into Chrome's --proxy-server and
// --proxy-bypass-list values. Empty strings mean "no flag".
func proxyFlags(p ProxySettings) (server string, bypass string) {
	p = resolveProxy(p)

	switch {
	case p.HTTPProxy != "" && p.HTTPSProxy != "" && p.HTTPProxy != p.HTTPSProxy:
		server = "http=" + p.HTTPProxy + ";https=" + p.HTTPSProxy
	case p.HTTPProxy != "":
		// Like net/http, an HTTP proxy alone also carries https traffic.
		server = p.HTTPProxy
	case p.HTTPSProxy != "":
		server = "https=" + p.HTTPSProxy
	}

	if server == "" || p.NoProxy == "" {
		return server, ""
	}

	var hosts []string
	for _, h := range strings.Split(p.NoProxy, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return server, strings.Join(hosts, ";")
}
