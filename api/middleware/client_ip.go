package middleware

import (
	"net"

	"github.com/labstack/echo/v4"
)

// ClientIPExtractor decides what c.RealIP returns, which feeds rate limiting and the audit
// log. X-Forwarded-For is honoured only when the peer sits in one of trusted.
func ClientIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, network := range trusted {
		options = append(options, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(options...)
}
