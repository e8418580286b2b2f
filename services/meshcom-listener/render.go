package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// DefaultTemplate je klíč šablony, která se použije pro neznámé typy.
const DefaultTemplate = "default"

// Vypočtené placeholdery. Podtržítko na začátku je odlišuje od polí ze záznamu.
const (
	FieldAltitudeMeters = "_alt_m"
	FieldMapLink        = "_map_link"
	FieldRawShort       = "_raw_json_short"
)

const (
	// MissingValue se dosadí za placeholder, ke kterému nemáme hodnotu.
	MissingValue = "???"

	rawPreviewLength = 200
	feetToMeters     = 0.3048
	mapLinkFormat    = "https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=15/%s/%s"

	// Znaky, které Telegram MarkdownV2 vyžaduje escapovat mimo kód a odkazy.
	markdownReserved = "\\_*[]()~`>#+-=|{}.!"
)

// ErrNoDefaultTemplate vrací NewRenderer, když v tabulce chybí "default".
var ErrNoDefaultTemplate = errors.New(`template table has no "default" entry`)

// placeholderContext určuje, jak se hodnota escapuje.
type placeholderContext int

const (
	contextPlain placeholderContext = iota
	contextCode                     // mezi párem backticků nebo uvnitř ``` bloku
	contextLink                     // URL v [text](...)
)

func (c placeholderContext) String() string {
	switch c {
	case contextCode:
		return "code"
	case contextLink:
		return "link"
	default:
		return "plain"
	}
}

// templateNode je buď literál, nebo placeholder (name != "").
type templateNode struct {
	literal string
	name    string
	context placeholderContext
}

// Template je předparsovaná šablona. Parsování nikdy neselže,
// neplatná syntaxe se prostě bere jako literál.
type Template struct {
	nodes []templateNode
}

// ParseTemplate rozloží text šablony na literály a placeholdery {name}.
func ParseTemplate(src string) *Template {
	code := codeMask(src)
	t := &Template{}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.nodes = append(t.nodes, templateNode{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		if src[i] != '{' {
			lit.WriteByte(src[i])
			i++
			continue
		}
		end := strings.IndexByte(src[i+1:], '}')
		if end < 0 || !isPlaceholderName(src[i+1:i+1+end]) {
			// Nevalidní placeholder, '{' zůstává literálem
			lit.WriteByte('{')
			i++
			continue
		}
		closeIdx := i + 1 + end

		ctx := contextPlain
		switch {
		case code[i] && code[closeIdx]:
			ctx = contextCode
		case strings.HasSuffix(src[:i], "](") && closeIdx+1 < len(src) && src[closeIdx+1] == ')':
			ctx = contextLink
		}

		flush()
		t.nodes = append(t.nodes, templateNode{name: src[i+1 : closeIdx], context: ctx})
		i = closeIdx + 1
	}
	flush()
	return t
}

// Execute dosadí hodnoty. Pro chybějící hodnotu zavolá onMissing a vloží "???".
func (t *Template) Execute(values map[string]string, onMissing func(name string)) string {
	var out strings.Builder
	for _, n := range t.nodes {
		if n.name == "" {
			out.WriteString(n.literal)
			continue
		}
		v, ok := values[n.name]
		if !ok {
			if onMissing != nil {
				onMissing(n.name)
			}
			out.WriteString(MissingValue)
			continue
		}
		if n.context == contextPlain {
			v = EscapeMarkdownV2(v)
		}
		out.WriteString(v)
	}
	return out.String()
}

// isPlaceholderName povoluje jen [A-Za-z0-9_]+.
func isPlaceholderName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// codeMask označí bajty šablony, které leží v kódu.
// ``` otevírá blok přes více řádků (neuzavřený blok běží do konce šablony).
// Jednoduchý ` tvoří kód jen s párovým ` na stejném řádku, nepárový je literál.
func codeMask(src string) []bool {
	mask := make([]bool, len(src))

	// Průchod 1: ``` bloky, zbytek si schováme jako segmenty
	type segment struct{ start, end int }
	var segments []segment
	segStart, fenceStart := 0, -1
	for i := 0; i < len(src); {
		if !strings.HasPrefix(src[i:], "```") || escapedAt(src, i) {
			i++
			continue
		}
		if fenceStart < 0 {
			segments = append(segments, segment{segStart, i})
			fenceStart = i + 3
		} else {
			for j := fenceStart; j < i; j++ {
				mask[j] = true
			}
			fenceStart = -1
			segStart = i + 3
		}
		i += 3
	}
	if fenceStart >= 0 {
		for j := fenceStart; j < len(src); j++ {
			mask[j] = true
		}
	} else {
		segments = append(segments, segment{segStart, len(src)})
	}

	// Průchod 2: páry jednoduchých backticků po řádcích
	for _, seg := range segments {
		var ticks []int
		pair := func() {
			for k := 0; k+1 < len(ticks); k += 2 {
				for j := ticks[k] + 1; j < ticks[k+1]; j++ {
					mask[j] = true
				}
			}
			ticks = ticks[:0]
		}
		for i := seg.start; i < seg.end; i++ {
			switch src[i] {
			case '`':
				if !escapedAt(src, i) {
					ticks = append(ticks, i)
				}
			case '\n':
				pair()
			}
		}
		pair()
	}
	return mask
}

// escapedAt: znak na pozici i má před sebou lichý počet zpětných lomítek.
func escapedAt(src string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && src[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// EscapeMarkdownV2 dá před každý rezervovaný znak zpětné lomítko.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Renderer drží předparsované šablony podle typu zprávy.
type Renderer struct {
	templates map[string]*Template
	logger    *slog.Logger
}

// NewRenderer předparsuje tabulku šablon. Chybějící "default" je chyba konfigurace.
func NewRenderer(table map[string]string, logger *slog.Logger) (*Renderer, error) {
	if _, ok := table[DefaultTemplate]; !ok {
		return nil, ErrNoDefaultTemplate
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		templates: make(map[string]*Template, len(table)),
		logger:    logger,
	}
	for name, text := range table {
		r.templates[name] = ParseTemplate(text)
	}
	return r, nil
}

// Render vybere šablonu podle typu a dosadí hodnoty. Nikdy nevrací chybu.
func (r *Renderer) Render(rec Record) string {
	name := rec.Type()
	tpl, ok := r.templates[name]
	if !ok {
		name = DefaultTemplate
		tpl = r.templates[DefaultTemplate]
	}
	if tpl == nil {
		return EscapeMarkdownV2(truncateRunes(rec.Raw(), rawPreviewLength))
	}

	values := BuildRenderContext(rec)
	return tpl.Execute(values, func(field string) {
		r.logger.Warn("Placeholder bez hodnoty, dosazuji ???",
			"template", name, "placeholder", field, "type", rec.Type())
	})
}

// BuildRenderContext zkopíruje pole záznamu a přidá vypočtené hodnoty.
// Vypočtená pole mají přednost před stejně pojmenovanými poli z payloadu.
func BuildRenderContext(rec Record) map[string]string {
	values := make(map[string]string, len(rec.keys)+3)
	for _, k := range rec.keys {
		if v, ok := rec.Lookup(k); ok {
			values[k] = v
		}
	}
	for _, k := range []string{FieldAltitudeMeters, FieldMapLink} {
		delete(values, k)
	}

	// Výška: MeshCom posílá stopy
	if feet, ok := rec.Float("alt"); ok && !math.IsNaN(feet) && !math.IsInf(feet, 0) {
		meters := math.Round(feet*feetToMeters*10) / 10
		if meters == 0 {
			// -0.0 -> 0.0
			meters = 0
		}
		values[FieldAltitudeMeters] = strconv.FormatFloat(meters, 'f', 1, 64)
	}

	// Odkaz na mapu jen když jsou obě souřadnice číselné
	if link, ok := mapLink(rec); ok {
		values[FieldMapLink] = link
	}

	values[FieldRawShort] = truncateRunes(rec.Raw(), rawPreviewLength)
	return values
}

// mapLink sestaví OSM odkaz. lat_dir=S a long_dir=W otáčí znaménko.
func mapLink(rec Record) (string, bool) {
	lat, okLat := rec.Float("lat")
	lon, okLon := rec.Float("long")
	if !okLat || !okLon || math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", false
	}
	if strings.EqualFold(rec.Get("lat_dir"), "S") && lat > 0 {
		lat = -lat
	}
	if strings.EqualFold(rec.Get("long_dir"), "W") && lon > 0 {
		lon = -lon
	}
	la := strconv.FormatFloat(lat, 'f', -1, 64)
	lo := strconv.FormatFloat(lon, 'f', -1, 64)
	return fmt.Sprintf(mapLinkFormat, la, lo, la, lo), true
}

// truncateRunes ořízne text na n znaků (ne bajtů).
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
