package dispatch

import (
	"context"
	"regexp"
	"strings"
)

// Request carries one parsed command through a handler.
type Request struct {
	URL      string
	Segments []string
	// Matches holds the capture groups of a regex route, full match first.
	Matches []string
}

// Handler resolves one command to its result.
type Handler func(ctx context.Context, req Request) CommandResult

type route struct {
	prefix  string
	pattern *regexp.Regexp
	handler Handler
}

// Router matches URLs against ordered routes grouped by their first segment.
// Within a bucket the first matching route wins.
type Router struct {
	buckets map[string][]route
	order   []string
}

func NewRouter() *Router {
	return &Router{buckets: map[string][]route{}}
}

func (r *Router) add(bucket string, rt route) {
	if _, ok := r.buckets[bucket]; !ok {
		r.order = append(r.order, bucket)
	}
	r.buckets[bucket] = append(r.buckets[bucket], rt)
}

// Prefix registers a segment-prefix route. The pattern is the full URL
// prefix including the bucket segment, e.g. "audio/cfg/getconfig".
func (r *Router) Prefix(pattern string, handler Handler) {
	bucket, _, _ := strings.Cut(pattern, "/")
	r.add(bucket, route{prefix: pattern, handler: handler})
}

// Regex registers a regex route anchored at the start of the URL. The bucket
// is given explicitly since the expression may not start with a literal.
func (r *Router) Regex(bucket, expression string, handler Handler) {
	r.add(bucket, route{pattern: regexp.MustCompile("^" + expression), handler: handler})
}

// Dispatch finds the first matching route. The second return is false when no
// route matched.
func (r *Router) Dispatch(ctx context.Context, url string) (CommandResult, bool) {
	trimmed := strings.Trim(url, "/")
	bucket, _, _ := strings.Cut(trimmed, "/")

	for _, rt := range r.buckets[bucket] {
		req, ok := rt.match(trimmed)
		if !ok {
			continue
		}
		return rt.handler(ctx, req), true
	}
	return CommandResult{}, false
}

func (rt route) match(url string) (Request, bool) {
	if rt.pattern != nil {
		matches := rt.pattern.FindStringSubmatch(url)
		if matches == nil {
			return Request{}, false
		}
		return Request{URL: url, Segments: strings.Split(url, "/"), Matches: matches}, true
	}
	if url != rt.prefix && !strings.HasPrefix(url, rt.prefix+"/") {
		return Request{}, false
	}
	return Request{URL: url, Segments: strings.Split(url, "/")}, true
}
