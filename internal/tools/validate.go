package tools

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	templatePattern = regexp.MustCompile(`\{\{.*?\}\}`)
)

// placeholderDomains are domains a language model invents when it has no real
// address to give. Sending to them is never what the user wanted, so a plan
// carrying one fails validation instead of dispatching.
var placeholderDomains = map[string]bool{
	"example.com":     true,
	"example.org":     true,
	"example.net":     true,
	"test.com":        true,
	"sample.com":      true,
	"placeholder.com": true,
	"dummy.com":       true,
	"fake.com":        true,
	"email.com":       true,
	"domain.com":      true,
}

// ValidateEmail rejects empty addresses, unresolved template variables,
// malformed addresses and well-known placeholder domains.
func ValidateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("email address is empty")
	}
	if templatePattern.MatchString(addr) {
		return fmt.Errorf("email address %q contains an unresolved template variable", addr)
	}
	if !emailPattern.MatchString(addr) {
		return fmt.Errorf("email address %q is malformed", addr)
	}
	at := strings.LastIndex(addr, "@")
	domain := strings.ToLower(addr[at+1:])
	if placeholderDomains[domain] {
		return fmt.Errorf("email address %q uses placeholder domain %s", addr, domain)
	}
	return nil
}
