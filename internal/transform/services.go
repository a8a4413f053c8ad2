package transform

// IANA protocol number → 이름. flow log 에 실제로 자주 나오는 것만.
var protocolNames = map[int]string{
	1:   "icmp",
	2:   "igmp",
	6:   "tcp",
	17:  "udp",
	41:  "ipv6",
	47:  "gre",
	50:  "esp",
	51:  "ah",
	58:  "icmpv6",
	89:  "ospf",
	132: "sctp",
}

// well-known port → 서비스 이름.
var portServices = map[int]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	67:    "dhcp",
	68:    "dhcp",
	80:    "http",
	110:   "pop3",
	123:   "ntp",
	143:   "imap",
	161:   "snmp",
	389:   "ldap",
	443:   "https",
	445:   "smb",
	465:   "smtps",
	514:   "syslog",
	587:   "submission",
	636:   "ldaps",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1521:  "oracle",
	2049:  "nfs",
	2379:  "etcd",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5439:  "redshift",
	5671:  "amqps",
	5672:  "amqp",
	6379:  "redis",
	8080:  "http-alt",
	8443:  "https-alt",
	9092:  "kafka",
	9200:  "opensearch",
	11211: "memcached",
	27017: "mongodb",
}

// serviceFor 는 목적지 포트를 먼저 보고, 없으면 응답 트래픽으로 보고 출발지 포트를 본다.
func serviceFor(srcPort, dstPort *int) string {
	if dstPort != nil {
		if s, ok := portServices[*dstPort]; ok {
			return s
		}
	}
	if srcPort != nil {
		if s, ok := portServices[*srcPort]; ok {
			return s
		}
	}
	return ""
}
