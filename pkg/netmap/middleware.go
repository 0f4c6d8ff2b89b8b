package netmap

import (
	"fmt"
	"net/http"
	"net/netip"
)

// RealIP returns middleware to update the remote address to the value of hdr
// if the request comes from an address in the trusted list. For this to be
// secure, the list must only contain proxies under the operator's control.
func RealIP(trusted *List, hdr string, onError func(*http.Request, error)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fwd := r.Header.Get(hdr); fwd != "" {
				if raddr, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
					if trusted.Contains(addrSlice(raddr.Addr())) {
						if x, err := netip.ParseAddr(fwd); err == nil {
							r2 := *r
							r2.RemoteAddr = netip.AddrPortFrom(x, raddr.Port()).String()
							r = &r2
						} else if onError != nil {
							onError(r, fmt.Errorf("parse %s: %w", hdr, err))
						}
					} else if onError != nil {
						onError(r, fmt.Errorf("have %s, but ip %s is not a trusted proxy", hdr, raddr.Addr()))
					}
				} else if onError != nil {
					onError(r, fmt.Errorf("parse remote addr: %w", err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addrSlice(a netip.Addr) []byte {
	if a = a.Unmap(); a.Is4() {
		b := a.As4()
		return b[:]
	}
	b := a.As16()
	return b[:]
}
