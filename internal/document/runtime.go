// Package document executes scripts embedded in SVG documents.
//
// Every <script type="text/<language>"> inside an <svg> element is run in
// document order. A failing script never stops the page: an error <text>
// element is appended to its svg instead, the way a browser page would show it.
package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fibhost/internal/binding"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	LanguageGo   = "go"
	LanguageWasm = "wasm"
)

// DefaultExport is the wasm export called when data-call is absent.
const DefaultExport = "fibonacci"

var (
	ErrUnsupportedLanguage = errors.New("unsupported script language")
	ErrNoWasmCode          = errors.New("No WASM code found")
)

// ScriptRunner evaluates Go script source. *script.Executor implements it.
type ScriptRunner interface {
	Run(ctx context.Context, code string) (string, error)
}

// WasmModule is an instantiated guest. *wasm.Host implements it.
type WasmModule interface {
	Call(ctx context.Context, export string, n int32) (int32, error)
	Close(ctx context.Context) error
}

// WasmLoader instantiates a wasm binary.
type WasmLoader func(ctx context.Context, code []byte) (WasmModule, error)

// Result reports one executed script.
type Result struct {
	Language string
	Index    int    // position among the page's scripts of this language
	Source   string // src attribute, if any
	Output   string
	Err      error
}

// Runtime runs page scripts.
type Runtime struct {
	scripts   ScriptRunner
	loadWasm  WasmLoader
	languages []string
	client    *http.Client
	onCall    func(binding.Invocation)
	logger    *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLanguages sets the order ExecuteAll runs languages in.
func WithLanguages(langs ...string) RuntimeOption {
	return func(rt *Runtime) { rt.languages = langs }
}

// WithHTTPClient sets the client used for http(s) script sources.
func WithHTTPClient(c *http.Client) RuntimeOption {
	return func(rt *Runtime) { rt.client = c }
}

// WithCallObserver reports every wasm export call made by page scripts,
// for example to store.Journal.Observer.
func WithCallObserver(fn func(binding.Invocation)) RuntimeOption {
	return func(rt *Runtime) { rt.onCall = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// NewRuntime creates a runtime. Either dependency may be nil, in which case
// scripts of that language fail with an error rendered into the page.
func NewRuntime(scripts ScriptRunner, loadWasm WasmLoader, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		scripts:   scripts,
		loadWasm:  loadWasm,
		languages: []string{LanguageGo, LanguageWasm},
		client:    http.DefaultClient,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// ExecuteAll runs every configured language in order.
func (rt *Runtime) ExecuteAll(ctx context.Context, doc *Document) ([]Result, error) {
	var all []Result
	for _, lang := range rt.languages {
		results, err := rt.Execute(ctx, doc, lang)
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Execute runs the scripts of one language. The returned error is only set
// for an unknown language or a cancelled context; script failures are in
// the results and rendered into the page.
func (rt *Runtime) Execute(ctx context.Context, doc *Document, language string) ([]Result, error) {
	if language != LanguageGo && language != LanguageWasm {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	scripts := doc.Scripts(language)
	rt.logger.Debug("Executing page scripts", zap.String("language", language), zap.Int("count", len(scripts)))

	results := make([]Result, 0, len(scripts))
	for i, s := range scripts {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := Result{Language: language, Index: i, Source: s.Src}
		switch language {
		case LanguageGo:
			res.Output, res.Err = rt.runGo(ctx, s)
		case LanguageWasm:
			res.Output, res.Err = rt.runWasm(ctx, doc, s)
		}

		if res.Err != nil {
			rt.logger.Warn("Error executing script", zap.String("language", language), zap.Int("index", i), zap.Error(res.Err))
			s.appendText("Error: "+res.Err.Error(), "script-error")
		} else if res.Output != "" {
			s.appendText(strings.TrimRight(res.Output, "\n"), "script-output")
		}
		results = append(results, res)
	}
	return results, nil
}

func (rt *Runtime) runGo(ctx context.Context, s *Script) (string, error) {
	if rt.scripts == nil {
		return "", fmt.Errorf("%w: no Go script engine configured", ErrUnsupportedLanguage)
	}
	return rt.scripts.Run(ctx, s.Code)
}

func (rt *Runtime) runWasm(ctx context.Context, doc *Document, s *Script) (string, error) {
	if rt.loadWasm == nil {
		return "", fmt.Errorf("%w: no wasm host configured", ErrUnsupportedLanguage)
	}

	code, err := rt.wasmCode(ctx, doc, s)
	if err != nil {
		return "", err
	}
	if len(code) == 0 {
		return "", ErrNoWasmCode
	}

	mod, err := rt.loadWasm(ctx, code)
	if err != nil {
		return "", fmt.Errorf("WASM initialization failed - %w", err)
	}
	defer mod.Close(ctx)

	args, ok := s.Attr("data-args")
	if !ok {
		return "", nil
	}
	export, _ := s.Attr("data-call")
	if export == "" {
		export = DefaultExport
	}

	n, err := strconv.ParseInt(strings.TrimSpace(args), 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid data-args %q: %w", args, err)
	}
	started := time.Now()
	out, err := mod.Call(ctx, export, int32(n))
	if rt.onCall != nil {
		inv := binding.Invocation{
			ID:        uuid.New().String(),
			Name:      export,
			Args:      []int64{n},
			Err:       err,
			StartedAt: started,
			Duration:  time.Since(started),
		}
		if err == nil {
			inv.Result = int64(out)
		}
		rt.onCall(inv)
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(out), 10), nil
}

// wasmCode prefers inline (base64) content and falls back to src.
func (rt *Runtime) wasmCode(ctx context.Context, doc *Document, s *Script) ([]byte, error) {
	if inline := strings.Join(strings.Fields(s.Code), ""); inline != "" {
		code, err := base64.StdEncoding.DecodeString(inline)
		if err != nil {
			return nil, fmt.Errorf("inline wasm is not base64: %w", err)
		}
		return code, nil
	}
	if s.Src == "" {
		return nil, nil
	}
	return rt.fetch(ctx, doc.BaseDir, s.Src)
}

func (rt *Runtime) fetch(ctx context.Context, baseDir, src string) ([]byte, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		return decodeDataURL(src)

	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := rt.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", src, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: %s", src, resp.Status)
		}
		return io.ReadAll(resp.Body)

	default:
		path := src
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, filepath.FromSlash(src))
		}
		return os.ReadFile(path)
	}
}

// decodeDataURL decodes data:[<mediatype>][;base64],<data>.
func decodeDataURL(src string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("malformed data URL: %w", err)
	}
	return []byte(s), nil
}

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is a parsed page.
type Document struct {
	root *html.Node
	// BaseDir resolves relative script sources.
	BaseDir string

	// bare is set for standalone SVG files, which render back as SVG
	// rather than as an HTML page.
	bare    bool
	xmlDecl string
}

// Load parses an HTML page or a bare SVG document.
func Load(r io.Reader, baseDir string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{
		root:    root,
		BaseDir: baseDir,
		bare:    !isHTMLDocument(src),
		xmlDecl: xmlDeclaration(src),
	}, nil
}

// LoadFile parses the page at path, resolving sources relative to its directory.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, filepath.Dir(path))
}

// Render writes the (possibly modified) page. A bare SVG document is
// written back as its svg elements, preceded by its XML declaration.
func (d *Document) Render(w io.Writer) error {
	if !d.bare {
		return html.Render(w, d.root)
	}
	if d.xmlDecl != "" {
		if _, err := io.WriteString(w, d.xmlDecl+"\n"); err != nil {
			return err
		}
	}
	for i, svg := range findAll(d.root, isSVG) {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := html.Render(w, svg); err != nil {
			return err
		}
	}
	return nil
}

// isHTMLDocument reports whether the first element (or doctype) of src
// belongs to an HTML page.
func isHTMLDocument(src []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(src))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.DoctypeToken:
			return strings.EqualFold(strings.TrimSpace(string(z.Text())), "html")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "html", "head", "body":
				return true
			}
			return false
		}
	}
}

// xmlDeclaration returns the leading <?xml ...?> of src, if any.
func xmlDeclaration(src []byte) string {
	s := strings.TrimLeft(string(src), " \t\r\n\ufeff")
	if !strings.HasPrefix(s, "<?xml") {
		return ""
	}
	end := strings.Index(s, "?>")
	if end < 0 {
		return ""
	}
	return s[:end+2]
}

// Script is a <script> element nested in an <svg>.
type Script struct {
	Language string
	Src      string
	Code     string

	node *html.Node
	svg  *html.Node
}

// Attr returns an attribute of the script element.
func (s *Script) Attr(key string) (string, bool) {
	for _, a := range s.node.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// appendText adds <text x="20" y="20" class="...">msg</text> to the svg.
func (s *Script) appendText(msg, class string) {
	text := &html.Node{
		Type:      html.ElementNode,
		Data:      "text",
		Namespace: "svg",
		Attr: []html.Attribute{
			{Key: "x", Val: "20"},
			{Key: "y", Val: "20"},
			{Key: "class", Val: class},
		},
	}
	text.AppendChild(&html.Node{Type: html.TextNode, Data: msg})
	s.svg.AppendChild(text)
}

// Scripts returns the scripts of type text/<language> inside svg elements,
// in document order.
func (d *Document) Scripts(language string) []*Script {
	want := "text/" + language
	var out []*Script

	for _, svg := range findAll(d.root, isSVG) {
		for _, n := range findAll(svg, isScript) {
			if attr(n, "type") != want {
				continue
			}
			out = append(out, &Script{
				Language: language,
				Src:      attr(n, "src"),
				Code:     textContent(n),
				node:     n,
				svg:      svg,
			})
		}
	}
	return out
}

func isSVG(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Svg || n.Data == "svg")
}

func isScript(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.Data == "script")
}

// findAll collects matching descendants of n (excluding n) in document order.
// Matches are not searched further, so nested svgs are not visited twice.
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
