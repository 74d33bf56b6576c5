/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package nametree implements the canonical DNS name ordering (RFC 4034
// §6.1) and the balanced ordered tree keyed by it. It backs every ordered
// container in the zone data engine: the authoritative domain tree, the
// denial-of-existence chain, and the NSEC3 twin tree.
package nametree

import (
	"bytes"
	"strings"

	"github.com/miekg/dns"
)

// CompareNames implements the RFC 4034 §6.1 canonical ordering: labels
// are compared right-to-left (apex label first), case-insensitively as
// plain bytes. A name that is a label-wise prefix of another (i.e. its
// ancestor, or an identical name) sorts first.
func CompareNames(a, b string) int {
	if a == b {
		return 0
	}
	al := dns.SplitDomainName(a)
	bl := dns.SplitDomainName(b)
	ai, bi := len(al)-1, len(bl)-1
	for ai >= 0 && bi >= 0 {
		if c := compareLabel(al[ai], bl[bi]); c != 0 {
			return c
		}
		ai--
		bi--
	}
	switch {
	case ai < 0 && bi < 0:
		return 0
	case ai < 0:
		return -1
	default:
		return 1
	}
}

func compareLabel(a, b string) int {
	return bytes.Compare(labelOctets(a), labelOctets(b))
}

// labelOctets decodes a presentation-form label (\DDD and \X escapes)
// into its octets, with ASCII letters lowercased.
func labelOctets(label string) []byte {
	buf := make([]byte, 256)
	n, err := dns.PackDomainName(dns.Fqdn(label), buf, 0, nil, false)
	if err != nil || n < 2 {
		return []byte(strings.ToLower(label))
	}
	out := buf[1 : n-1]
	for i, c := range out {
		if 'A' <= c && c <= 'Z' {
			out[i] = c + 'a' - 'A'
		}
	}
	return out
}

// Equal reports whether a and b are the same canonical name.
func Equal(a, b string) bool {
	return CompareNames(a, b) == 0
}

// StripLeftLabel returns name with its leftmost label removed, i.e. the
// name of its immediate parent in the tree. Stripping the root label
// returns ".".
func StripLeftLabel(name string) string {
	labels := dns.SplitDomainName(name)
	if len(labels) <= 1 {
		return "."
	}
	return dns.Fqdn(strings.Join(labels[1:], "."))
}

// NumLabels returns the number of labels in name (the root has zero).
func NumLabels(name string) int {
	return len(dns.SplitDomainName(name))
}

// IsSubdomain reports whether child is equal to or a descendant of parent.
func IsSubdomain(parent, child string) bool {
	return dns.IsSubDomain(parent, child)
}
