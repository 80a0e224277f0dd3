/*
File: access.go
Version: 1.0.0
Description: Client access list for the HTTP API, backed by a cidranger prefix trie.
             Entries are CIDRs or bare addresses. An empty list admits every client.
*/

package main

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yl2chen/cidranger"
)

type AccessList struct {
	ranger cidranger.Ranger
	size   int
}

// NewAccessList parses entries such as "10.0.0.0/8", "::1" or "192.168.1.7".
func NewAccessList(entries []string) (*AccessList, error) {
	al := &AccessList{ranger: cidranger.NewPCTrieRanger()}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		var prefix netip.Prefix
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid network '%s': %w", entry, err)
			}
			prefix = p.Masked()
		} else {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid address '%s': %w", entry, err)
			}
			addr = addr.Unmap()
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}

		addr, bits := prefix.Addr(), prefix.Bits()
		if addr.Is4In6() {
			if bits < 96 {
				return nil, fmt.Errorf("invalid network '%s': v4-mapped prefix shorter than /96", entry)
			}
			addr, bits = addr.Unmap(), bits-96
		}
		ipNet := net.IPNet{
			IP:   net.IP(addr.AsSlice()),
			Mask: net.CIDRMask(bits, addr.BitLen()),
		}
		if err := al.ranger.Insert(cidranger.NewBasicRangerEntry(ipNet)); err != nil {
			return nil, fmt.Errorf("insert network '%s': %w", entry, err)
		}
		al.size++
	}

	return al, nil
}

// Len reports how many networks are listed.
func (al *AccessList) Len() int {
	if al == nil {
		return 0
	}
	return al.size
}

// Allowed reports whether ip may use the API.
func (al *AccessList) Allowed(ip string) bool {
	if al.Len() == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	ok, err := al.ranger.Contains(net.IP(addr.Unmap().AsSlice()))
	return err == nil && ok
}

// Middleware rejects clients outside the list with 403.
func (al *AccessList) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ip := c.ClientIP(); !al.Allowed(ip) {
			LogWarn("[ACCESS] Rejected client %s [%s]", ip, requestID(c))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
