package router

import (
	"net/http"
	"path"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Response is the buffered form a unary handler returns. Streaming handlers
// instead write directly to the http.ResponseWriter they're given — both
// shapes satisfy the router's single dispatch contract (spec §4.E "erased
// boxed body"), the buffered one through this struct, the streaming one
// through the http.ResponseWriter interface Go already erases handler
// output behind.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// UnaryHandler serves one buffered request/response pair.
type UnaryHandler func(r *http.Request, params map[string]string) (*Response, error)

// StreamHandler serves a long-lived or chunked response; it writes directly
// and is never cached or compressed (spec §4.E step 2).
type StreamHandler func(w http.ResponseWriter, r *http.Request, params map[string]string) error

type unaryRoute struct {
	pattern *Pattern
	handler UnaryHandler
}

type streamRoute struct {
	pattern *Pattern
	handler StreamHandler
}

// CORSConfig configures the CORS middleware that runs ahead of the
// compression gate (SPEC_FULL.md supplemented feature, grounded on the
// teacher's gateway.CORSConfig).
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// Router holds the handler tables and dispatches by (method, path)
// (spec §4.E). Handler tables are append-only during boot (via HandleFunc /
// HandleStream) and read-only at runtime — no hot reload in core.
type Router struct {
	mu            sync.RWMutex
	unary         map[string][]*unaryRoute
	streaming     map[string][]*streamRoute
	wildcard      map[string]UnaryHandler // exact key "/*", per method
	denySet       map[string]struct{}
	spaFallback   string
	compression   CompressionConfig
	cors          *CORSConfig
	cache         *lru.Cache[string, *cachedResponse]
	cacheEnabled  bool
}

type cachedResponse struct {
	status   int
	header   http.Header
	body     []byte
	encoding string
}

// New creates an empty router with compression enabled at spec defaults
// and no cache, no CORS, no SPA fallback, no denied IPs.
func New() *Router {
	return &Router{
		unary:       make(map[string][]*unaryRoute),
		streaming:   make(map[string][]*streamRoute),
		wildcard:    make(map[string]UnaryHandler),
		denySet:     make(map[string]struct{}),
		compression: DefaultCompressionConfig(),
	}
}

// EnableCache turns on the GET response cache with the given capacity,
// keyed by (method, path, accept-encoding) per spec §4.E step 3.
func (rt *Router) EnableCache(capacity int) error {
	c, err := lru.New[string, *cachedResponse](capacity)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.cache = c
	rt.cacheEnabled = true
	rt.mu.Unlock()
	return nil
}

// SetCompression replaces the compression gate configuration.
func (rt *Router) SetCompression(cfg CompressionConfig) {
	rt.mu.Lock()
	rt.compression = cfg
	rt.mu.Unlock()
}

// SetCORS installs the CORS middleware configuration; nil disables it.
func (rt *Router) SetCORS(cfg *CORSConfig) {
	rt.mu.Lock()
	rt.cors = cfg
	rt.mu.Unlock()
}

// SetSPAFallback configures a path to rewrite-and-redispatch to when no
// route matches and the request does not look like a static asset
// (spec §4.E step 5).
func (rt *Router) SetSPAFallback(fallbackPath string) {
	rt.mu.Lock()
	rt.spaFallback = fallbackPath
	rt.mu.Unlock()
}

// Deny adds an IP to the deny-set; requests from it receive 403 before any
// route is consulted (spec §4.E step 1).
func (rt *Router) Deny(ip string) {
	rt.mu.Lock()
	rt.denySet[ip] = struct{}{}
	rt.mu.Unlock()
}

// HandleFunc registers a unary handler for (method, pattern). Insertion is
// idempotent-overwrite for an identical (method, pattern) pair; compiling
// an invalid pattern panics, since it is a configuration contradiction
// discovered at boot, not a runtime error (spec §3, §7).
func (rt *Router) HandleFunc(method, pattern string, handler UnaryHandler) {
	if pattern == "/*" {
		rt.mu.Lock()
		rt.wildcard[method] = handler
		rt.mu.Unlock()
		return
	}
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	routes := rt.unary[method]
	for _, existing := range routes {
		if existing.pattern.String() == pattern {
			existing.handler = handler
			return
		}
	}
	rt.unary[method] = append(routes, &unaryRoute{pattern: p, handler: handler})
}

// HandleStream registers a streaming handler for (method, pattern).
func (rt *Router) HandleStream(method, pattern string, handler StreamHandler) {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	routes := rt.streaming[method]
	for _, existing := range routes {
		if existing.pattern.String() == pattern {
			existing.handler = handler
			return
		}
	}
	rt.streaming[method] = append(routes, &streamRoute{pattern: p, handler: handler})
}

// ServeHTTP implements the full dispatch algorithm of spec §4.E.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.serve(w, r, false)
}

func (rt *Router) serve(w http.ResponseWriter, r *http.Request, redispatched bool) {
	if _, denied := rt.denySet[ClientIP(r)]; denied {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if rt.cors != nil {
		if handled := rt.applyCORS(w, r); handled {
			return
		}
	}

	rt.mu.RLock()
	streamRoutes := rt.streaming[r.Method]
	rt.mu.RUnlock()
	for _, route := range streamRoutes {
		if params, ok := route.pattern.Match(r.URL.Path); ok {
			if err := route.handler(w, r, params); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
	}

	rt.mu.RLock()
	unaryRoutes := rt.unary[r.Method]
	rt.mu.RUnlock()
	for _, route := range unaryRoutes {
		if params, ok := route.pattern.Match(r.URL.Path); ok {
			rt.dispatchUnary(w, r, route.handler, params)
			return
		}
	}

	rt.mu.RLock()
	wildcard, hasWildcard := rt.wildcard[r.Method]
	rt.mu.RUnlock()
	if hasWildcard {
		rt.dispatchUnary(w, r, wildcard, map[string]string{})
		return
	}

	if !redispatched && rt.spaFallback != "" && !looksLikeStaticAsset(r.URL.Path) {
		r.URL.Path = rt.spaFallback
		rt.serve(w, r, true)
		return
	}

	http.NotFound(w, r)
}

func (rt *Router) dispatchUnary(w http.ResponseWriter, r *http.Request, handler UnaryHandler, params map[string]string) {
	acceptEncoding := r.Header.Get("Accept-Encoding")
	cacheKey := r.Method + "\x00" + r.URL.Path + "\x00" + acceptEncoding

	if r.Method == http.MethodGet && rt.cacheEnabled {
		if cached, ok := rt.cache.Get(cacheKey); ok {
			writeCached(w, cached)
			return
		}
	}

	resp, err := handler(r, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if resp == nil {
		resp = &Response{Status: http.StatusOK}
	}

	contentType := resp.Header.Get("Content-Type")
	existingEncoding := resp.Header.Get("Content-Encoding")
	body, encoding, compressed := Gate(rt.compression, acceptEncoding, contentType, r.URL.Path, existingEncoding, resp.Body)

	if r.Method == http.MethodGet && rt.cacheEnabled {
		rt.cache.Add(cacheKey, &cachedResponse{status: resp.Status, header: resp.Header.Clone(), body: body, encoding: encoding})
	}

	writeResponse(w, resp.Status, resp.Header, body, encoding, compressed, len(resp.Body))
}

func writeResponse(w http.ResponseWriter, status int, header http.Header, body []byte, encoding string, compressed bool, originalLen int) {
	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if compressed {
		ApplyHeaders(w, encoding, len(body), originalLen)
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeCached(w http.ResponseWriter, cached *cachedResponse) {
	writeResponse(w, cached.status, cached.header, cached.body, cached.encoding, cached.encoding != "", len(cached.body))
}

// applyCORS answers preflight OPTIONS requests and stamps CORS headers on
// every other response; it returns true when it fully handled the request
// (an OPTIONS preflight) so ServeHTTP should not continue dispatching.
func (rt *Router) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	cfg := rt.cors
	origin := r.Header.Get("Origin")
	if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if cfg.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
	}
	if r.Method != http.MethodOptions {
		return false
	}
	if len(cfg.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	}
	if len(cfg.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	w.WriteHeader(http.StatusNoContent)
	return true
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

var staticAssetExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".mp3": true, ".mp4": true, ".wav": true, ".ogg": true, ".webm": true,
	".zip": true, ".gz": true, ".rar": true, ".7z": true, ".tar": true,
	".css": true, ".js": true, ".map": true, ".woff": true, ".woff2": true, ".ttf": true,
}

func looksLikeStaticAsset(p string) bool {
	return staticAssetExtensions[strings.ToLower(path.Ext(p))]
}
