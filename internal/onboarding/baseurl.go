package onboarding

import (
	"net/http"
	"net/url"
	"strings"

	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
)

// Origin is what the inbound request says about where it was addressed.
type Origin struct {
	Host           string
	ForwardedHost  string
	ForwardedProto string
}

func OriginFromRequest(r *http.Request) Origin {
	return Origin{
		Host:           r.Host,
		ForwardedHost:  r.Header.Get("X-Forwarded-Host"),
		ForwardedProto: r.Header.Get("X-Forwarded-Proto"),
	}
}

// BaseURLResolver picks the absolute base used for every onboarding URL.
type BaseURLResolver struct {
	configured     string
	fallback       string
	trustForwarded bool
	logger         logger.Logger
}

func NewBaseURLResolver(configured, fallback string, trustForwarded bool, log logger.Logger) *BaseURLResolver {
	return &BaseURLResolver{
		configured:     configured,
		fallback:       fallback,
		trustForwarded: trustForwarded,
		logger:         log,
	}
}

// Resolve tries the configured base, then request headers when trusted, then
// the configured fallback. It never invents a host.
func (r *BaseURLResolver) Resolve(o Origin) (string, error) {
	if base, ok := canonicalBase(r.configured, "https"); ok {
		return base, nil
	}
	if r.trustForwarded {
		if host := firstValue(o.ForwardedHost); host != "" {
			scheme := strings.ToLower(firstValue(o.ForwardedProto))
			if scheme != "http" && scheme != "https" {
				scheme = "https"
			}
			if base, ok := canonicalBase(scheme+"://"+host, "https"); ok {
				return base, nil
			}
		}
		if base, ok := canonicalBase(o.Host, "https"); ok {
			return base, nil
		}
	}
	if base, ok := canonicalBase(r.fallback, "https"); ok {
		r.logger.Warn("Using fallback base URL for onboarding links", map[string]interface{}{
			"base_url": base,
			"host":     o.Host,
		})
		return base, nil
	}
	return "", kyderrors.New(kyderrors.KindBaseURLUnresolved, "no base url configured and request host is not trusted")
}

func firstValue(header string) string {
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(header)
}

func canonicalBase(raw, defaultScheme string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = defaultScheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || strings.ContainsAny(u.Host, " /\\") {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	base := u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/")
	return base, true
}
