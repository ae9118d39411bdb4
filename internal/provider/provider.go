// Package provider abstracts the upstream source of browsable media content
// (library folders, radios, playlists, search) and persists room favourites
// and recently played items.
package provider

import (
	"context"
	"fmt"
)

// Item is one browsable media entry in the Loxone folder schema.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AudioPath string `json:"audiopath"`
	CoverURL  string `json:"coverurl,omitempty"`
	Type      int    `json:"type"`
}

// Page is one paginated slice of a folder or list.
type Page struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Start      int    `json:"start"`
	TotalItems int    `json:"totalitems"`
	Items      []Item `json:"items"`
}

// Service describes one music service a provider exposes.
type Service struct {
	Cmd  string `json:"cmd"`
	Name string `json:"name"`
	User string `json:"user"`
}

// Resolved is the playable form of a station, playlist or media item.
type Resolved struct {
	URI     string   `json:"uri,omitempty"`
	URIs    []string `json:"uris,omitempty"`
	Name    string   `json:"name,omitempty"`
	Shuffle bool     `json:"shuffle,omitempty"`
}

// MediaProvider is the upstream content contract. All listing calls paginate
// with offset/limit.
type MediaProvider interface {
	GetMediaFolder(ctx context.Context, folderID string, offset, limit int) (Page, error)
	GetRadios(ctx context.Context) ([]Item, error)
	GetPlaylists(ctx context.Context, offset, limit int) (Page, error)
	GetServiceFolder(ctx context.Context, service, user, folderID string, offset, limit int) (Page, error)
	GlobalSearch(ctx context.Context, query string, limit int) (map[string]Page, error)
	GetAvailableServices(ctx context.Context) ([]Service, error)
	ScanStatus(ctx context.Context) (int, error)

	ResolveStation(ctx context.Context, service, user, stationID string) (Resolved, error)
	ResolvePlaylist(ctx context.Context, path, item string) (Resolved, error)
	ResolveMediaItem(ctx context.Context, mediaID string) (Resolved, error)
}

// New selects a provider implementation by kind. An empty kind yields the
// null provider so every provider route still answers.
func New(kind string, options map[string]string) (MediaProvider, error) {
	switch kind {
	case "", "none":
		return NullProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown media provider %q", kind)
	}
}

// NullProvider answers every browse with an empty page and resolves media
// items to themselves. It keeps the command surface alive with no upstream
// library configured.
type NullProvider struct{}

func (NullProvider) GetMediaFolder(ctx context.Context, folderID string, offset, limit int) (Page, error) {
	return Page{ID: folderID, Start: offset, Items: []Item{}}, nil
}

func (NullProvider) GetRadios(ctx context.Context) ([]Item, error) {
	return []Item{}, nil
}

func (NullProvider) GetPlaylists(ctx context.Context, offset, limit int) (Page, error) {
	return Page{ID: "playlists", Start: offset, Items: []Item{}}, nil
}

func (NullProvider) GetServiceFolder(ctx context.Context, service, user, folderID string, offset, limit int) (Page, error) {
	return Page{ID: folderID, Start: offset, Items: []Item{}}, nil
}

func (NullProvider) GlobalSearch(ctx context.Context, query string, limit int) (map[string]Page, error) {
	return map[string]Page{}, nil
}

func (NullProvider) GetAvailableServices(ctx context.Context) ([]Service, error) {
	return []Service{}, nil
}

func (NullProvider) ScanStatus(ctx context.Context) (int, error) {
	return 0, nil
}

func (NullProvider) ResolveStation(ctx context.Context, service, user, stationID string) (Resolved, error) {
	return Resolved{URI: stationID}, nil
}

func (NullProvider) ResolvePlaylist(ctx context.Context, path, item string) (Resolved, error) {
	return Resolved{URI: path}, nil
}

func (NullProvider) ResolveMediaItem(ctx context.Context, mediaID string) (Resolved, error) {
	return Resolved{URI: mediaID}, nil
}
