package rules

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/noctisids/noctis/internal/idserr"
)

// ParseRules reads one rule per logical line (trailing backslash continues
// onto the next physical line, '#' starts a comment) and returns every rule
// that parsed successfully plus a ParseError for every line that did not.
// A malformed rule never aborts the load of the surrounding set.
func ParseRules(r io.Reader) ([]Rule, []error) {
	var rules []Rule
	var errs []error

	scanner := bufio.NewScanner(r)
	var pending strings.Builder
	lineNo := 0
	flush := func(logicalLine string, startLine int) {
		logicalLine = strings.TrimSpace(logicalLine)
		if logicalLine == "" || strings.HasPrefix(logicalLine, "#") {
			return
		}
		rule, err := ParseRule(logicalLine)
		if err != nil {
			errs = append(errs, &idserr.ParseError{
				Context: fmt.Sprintf("rule line %d", startLine),
				Err:     err,
			})
			return
		}
		rules = append(rules, rule)
	}

	startLine := 1
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 && !strings.ContainsAny(line[:idx], `"`) {
			line = line[:idx]
		}
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, `\`) {
			pending.WriteString(strings.TrimSuffix(trimmed, `\`))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(trimmed)
		flush(pending.String(), startLine)
		pending.Reset()
		startLine = lineNo + 1
	}
	if pending.Len() > 0 {
		flush(pending.String(), startLine)
	}
	return rules, errs
}

// ParseRule parses a single logical rule line of the form:
//
//	<action> <proto> <src_ip> <src_port> <dir> <dst_ip> <dst_port> ( <opt>; <opt>; ... )
func ParseRule(line string) (Rule, error) {
	openParen := strings.Index(line, "(")
	closeParen := strings.LastIndex(line, ")")
	if openParen < 0 || closeParen < openParen {
		return Rule{}, fmt.Errorf("missing option block: %q", line)
	}
	header := strings.Fields(strings.TrimSpace(line[:openParen]))
	if len(header) != 7 {
		return Rule{}, fmt.Errorf("expected 7 header fields, got %d: %q", len(header), line)
	}

	action, err := parseAction(header[0])
	if err != nil {
		return Rule{}, err
	}
	proto, err := parseProto(header[1])
	if err != nil {
		return Rule{}, err
	}
	srcIP, err := ParseIPSelector(header[2])
	if err != nil {
		return Rule{}, fmt.Errorf("src_ip: %w", err)
	}
	srcPort, err := ParsePortSelector(header[3])
	if err != nil {
		return Rule{}, fmt.Errorf("src_port: %w", err)
	}
	dir, err := parseDirection(header[4])
	if err != nil {
		return Rule{}, err
	}
	dstIP, err := ParseIPSelector(header[5])
	if err != nil {
		return Rule{}, fmt.Errorf("dst_ip: %w", err)
	}
	dstPort, err := ParsePortSelector(header[6])
	if err != nil {
		return Rule{}, fmt.Errorf("dst_port: %w", err)
	}

	options, err := parseOptions(line[openParen+1 : closeParen])
	if err != nil {
		return Rule{}, err
	}
	sidStr, ok := options["sid"]
	if !ok {
		return Rule{}, fmt.Errorf("missing mandatory sid option")
	}
	sid, err := strconv.Atoi(sidStr)
	if err != nil || sid <= 0 {
		return Rule{}, fmt.Errorf("sid must be a positive integer, got %q", sidStr)
	}
	msg, ok := options["msg"]
	if !ok {
		return Rule{}, fmt.Errorf("missing mandatory msg option")
	}

	return Rule{
		Sid:       sid,
		Action:    action,
		Protocol:  proto,
		SrcIP:     srcIP,
		SrcPort:   srcPort,
		Direction: dir,
		DstIP:     dstIP,
		DstPort:   dstPort,
		Msg:       msg,
		Options:   options,
		Enabled:   true,
		Category:  options["category"],
		Raw:       line,
	}, nil
}

func parseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "alert":
		return ActionAlert, nil
	case "drop":
		return ActionDrop, nil
	case "reject":
		return ActionReject, nil
	case "pass":
		return ActionPass, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func parseProto(s string) (Proto, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return ProtoTCP, nil
	case "udp":
		return ProtoUDP, nil
	case "icmp":
		return ProtoICMP, nil
	case "ip":
		return ProtoIP, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

func parseDirection(s string) (RuleDirection, error) {
	switch s {
	case "->":
		return DirUnidirectional, nil
	case "<->":
		return DirBidirectional, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// parseOptions splits a "key:value; key:\"quoted value\";" option block.
// Unknown keys are preserved verbatim in the returned map.
func parseOptions(s string) (map[string]string, error) {
	opts := make(map[string]string)
	for _, clause := range splitOptionClauses(s) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		idx := strings.Index(clause, ":")
		if idx < 0 {
			return nil, fmt.Errorf("malformed option %q", clause)
		}
		key := strings.TrimSpace(clause[:idx])
		val := strings.TrimSpace(clause[idx+1:])
		val = strings.Trim(val, `"`)
		if key == "" {
			return nil, fmt.Errorf("empty option key in %q", clause)
		}
		opts[key] = val
	}
	return opts, nil
}

// splitOptionClauses splits on ';' but respects double-quoted values that
// may themselves contain the separator.
func splitOptionClauses(s string) []string {
	var clauses []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ';':
			if inQuotes {
				cur.WriteRune(r)
				continue
			}
			clauses = append(clauses, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		clauses = append(clauses, cur.String())
	}
	return clauses
}

// Serialize renders a Rule back into the rule-text syntax, preserving
// options in a stable key order (sid, msg, category, then the rest sorted
// by key) so parse(serialize(parse(r))) == parse(r).
func (r Rule) Serialize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s %s %s (", r.Action, r.Protocol, r.SrcIP, r.SrcPort, r.Direction, r.DstIP, r.DstPort)
	fmt.Fprintf(&b, "sid:%d; msg:%q;", r.Sid, r.Msg)
	if v, ok := r.Options["category"]; ok {
		fmt.Fprintf(&b, " category:%s;", v)
	}
	rest := make([]string, 0, len(r.Options))
	for k := range r.Options {
		if k == "sid" || k == "msg" || k == "category" {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&b, " %s:%s;", k, r.Options[k])
	}
	b.WriteString(")")
	return b.String()
}
