package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// OBOTerm is one [Term] stanza reduced to the fields retrieval needs.
type OBOTerm struct {
	ID         string
	Name       string
	Definition string
	Synonyms   []string
	Xrefs      []string
	Parents    []OBOParent
	Obsolete   bool
}

// OBOParent is one is_a or relationship edge.
type OBOParent struct {
	ID       string
	Relation string
}

// ParseOBO scans an OBO stream stanza by stanza. This is a pragmatic
// tag-value reader, not a full grammar: it understands the tags retrieval
// cares about and skips everything else. Obsolete terms are dropped.
func ParseOBO(r io.Reader) ([]OBOTerm, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		terms   []OBOTerm
		current *OBOTerm
		inTerm  bool
	)
	flush := func() {
		if current != nil && current.ID != "" && !current.Obsolete {
			terms = append(terms, *current)
		}
		current = nil
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			flush()
			inTerm = line == "[Term]"
			if inTerm {
				current = &OBOTerm{}
			}
			continue
		}
		if !inTerm || current == nil {
			continue
		}

		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch tag {
		case "id":
			current.ID = value
		case "name":
			current.Name = value
		case "def":
			current.Definition = quotedValue(value)
		case "synonym":
			if s := quotedValue(value); s != "" {
				current.Synonyms = append(current.Synonyms, s)
			}
		case "xref":
			if v := stripComment(value); v != "" {
				current.Xrefs = append(current.Xrefs, v)
			}
		case "is_a":
			if id := stripComment(value); id != "" {
				current.Parents = append(current.Parents, OBOParent{ID: id, Relation: "is_a"})
			}
		case "relationship":
			rel, rest, ok := strings.Cut(value, " ")
			if !ok {
				continue
			}
			if id := stripComment(rest); id != "" {
				current.Parents = append(current.Parents, OBOParent{ID: id, Relation: rel})
			}
		case "is_obsolete":
			current.Obsolete = strings.HasPrefix(value, "true")
		}
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan obo: %w", err)
	}
	return terms, nil
}

// quotedValue extracts the quoted payload of def/synonym lines, e.g.
// `"A malignant neoplasm." [PMID:1]` -> `A malignant neoplasm.`.
func quotedValue(value string) string {
	start := strings.IndexByte(value, '"')
	if start < 0 {
		return stripComment(value)
	}
	rest := value[start+1:]
	var sb strings.Builder
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '\\' && i+1 < len(rest) {
			i++
			sb.WriteByte(rest[i])
			continue
		}
		if c == '"' {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// stripComment drops the ` ! label` trailer from tag values.
func stripComment(value string) string {
	if i := strings.Index(value, " !"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}
