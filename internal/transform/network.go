package transform

import (
	"net"
	"strings"
)

// ------------------------------------------------------------
// 주소 분류 유틸리티
//
// flow log 의 srcaddr/dstaddr 만으로 트래픽 방향을 추정한다.
// VPC 내부 주소는 private 대역(10/8, 172.16/12, 192.168/16, fc00::/7)이므로
// "private ↔ public" 조합으로 ingress/egress 를 구분할 수 있다.
// ------------------------------------------------------------

const (
	DirectionIngress  = "ingress"  // public → private
	DirectionEgress   = "egress"   // private → public
	DirectionInternal = "internal" // private → private
	DirectionExternal = "external" // public → public (NAT/IGW 경유 등)
)

// isPublicIP:
//   - private / loopback / link-local / unspecified 가 아니면 true
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return false
	}
	return true
}

// safeParseIP:
//   - 공백/빈 값/"-" 대응
//   - 잘못된 값이면 nil
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	return net.ParseIP(s)
}

// direction:
//
// 두 주소 중 하나라도 파싱 불가면 "" (문서에서 필드 생략).
func direction(src, dst string) string {
	s, d := safeParseIP(src), safeParseIP(dst)
	if s == nil || d == nil {
		return ""
	}

	sp, dp := isPublicIP(s), isPublicIP(d)
	switch {
	case !sp && !dp:
		return DirectionInternal
	case !sp && dp:
		return DirectionEgress
	case sp && !dp:
		return DirectionIngress
	default:
		return DirectionExternal
	}
}
