// Package registry maps connection URL schemes to source factories and
// destination family names to destination factories. Connector packages
// register themselves from init().
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
)

// SourceFactory opens a source builder for a parsed connection URL.
type SourceFactory func(ctx context.Context, u *url.URL, cfg *config.Config) (core.SourceBuilder, error)

// DestinationFactory creates an unallocated destination.
type DestinationFactory func(cfg *config.Config) (core.Destination, error)

// Registry manages connector registration and instantiation
type Registry struct {
	sources      map[string]SourceFactory
	schemes      map[string]string
	destinations map[string]DestinationFactory
	mu           sync.RWMutex
	logger       *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		schemes:      make(map[string]string),
		destinations: make(map[string]DestinationFactory),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source family reachable through the given URL
// schemes. The family name itself is always a valid scheme.
func (r *Registry) RegisterSource(family string, factory SourceFactory, schemes ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[family]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", family))
	}
	all := append([]string{family}, schemes...)
	for _, s := range all {
		if owner, taken := r.schemes[s]; taken {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("scheme %s already registered by %s", s, owner))
		}
	}

	r.sources[family] = factory
	for _, s := range all {
		r.schemes[s] = family
	}
	r.logger.Debug("source connector registered", zap.String("name", family), zap.Strings("schemes", all))
	return nil
}

// RegisterDestination registers a destination family
func (r *Registry) RegisterDestination(family string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[family]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", family))
	}

	r.destinations[family] = factory
	r.logger.Debug("destination connector registered", zap.String("name", family))
	return nil
}

// SourceFamily resolves the family that serves rawURL's scheme.
func (r *Registry) SourceFamily(rawURL string) (string, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	return r.familyFor(u)
}

func (r *Registry) familyFor(u *url.URL) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	family, ok := r.schemes[u.Scheme]
	if !ok {
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("no source connector for scheme %q", u.Scheme))
	}
	return family, nil
}

// OpenSource parses rawURL and opens a builder from the matching factory.
func (r *Registry) OpenSource(ctx context.Context, rawURL string, cfg *config.Config) (core.SourceBuilder, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	family, err := r.familyFor(u)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory := r.sources[family]
	r.mu.RUnlock()

	builder, err := factory(ctx, u, config.OrDefault(cfg))
	if err != nil {
		if _, typed := err.(*errors.Error); typed {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to open %s source", family))
	}
	return builder, nil
}

// CreateDestination creates a destination instance
func (r *Registry) CreateDestination(family string, cfg *config.Config) (core.Destination, error) {
	r.mu.RLock()
	factory, exists := r.destinations[family]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", family))
	}

	destination, err := factory(config.OrDefault(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", family))
	}
	return destination, nil
}

// ListSources returns registered source families, sorted
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// ListDestinations returns registered destination families, sorted
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.destinations)
}

// HasSource checks if a source family is registered
func (r *Registry) HasSource(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[family]
	return exists
}

// HasDestination checks if a destination family is registered
func (r *Registry) HasDestination(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[family]
	return exists
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseURL parses a connection URL. A missing scheme or an unparsable URL is
// an ErrorTypeParse error. Credentials are redacted from the message.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errors.Wrap(redact(err), errors.ErrorTypeParse, "malformed connection URL")
	}
	if u.Scheme == "" {
		return nil, errors.New(errors.ErrorTypeParse, "connection URL has no scheme")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

func redact(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s", ue.Err)
	}
	return err
}

// Global registry functions

// RegisterSource registers a source family in the global registry
func RegisterSource(family string, factory SourceFactory, schemes ...string) error {
	return globalRegistry.RegisterSource(family, factory, schemes...)
}

// RegisterDestination registers a destination family in the global registry
func RegisterDestination(family string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(family, factory)
}

// OpenSource opens a source from the global registry
func OpenSource(ctx context.Context, rawURL string, cfg *config.Config) (core.SourceBuilder, error) {
	return globalRegistry.OpenSource(ctx, rawURL, cfg)
}

// SourceFamily resolves a URL's family in the global registry
func SourceFamily(rawURL string) (string, error) {
	return globalRegistry.SourceFamily(rawURL)
}

// CreateDestination creates a destination from the global registry
func CreateDestination(family string, cfg *config.Config) (core.Destination, error) {
	return globalRegistry.CreateDestination(family, cfg)
}

// ListSources returns registered sources from the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListDestinations returns registered destinations from the global registry
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}

// HasSource checks if a source is registered in the global registry
func HasSource(family string) bool {
	return globalRegistry.HasSource(family)
}

// HasDestination checks if a destination is registered in the global registry
func HasDestination(family string) bool {
	return globalRegistry.HasDestination(family)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}

// ConnectorInfo describes a registered connector
type ConnectorInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Schemes     []string `json:"schemes,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// ConnectorCatalog manages connector metadata
type ConnectorCatalog struct {
	connectors map[string]*ConnectorInfo
	mu         sync.RWMutex
}

// NewConnectorCatalog creates a new connector catalog
func NewConnectorCatalog() *ConnectorCatalog {
	return &ConnectorCatalog{
		connectors: make(map[string]*ConnectorInfo),
	}
}

func catalogKey(info *ConnectorInfo) string { return info.Type + "/" + info.Name }

// Register adds a connector to the catalog
func (c *ConnectorCatalog) Register(info *ConnectorInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := catalogKey(info)
	if _, exists := c.connectors[key]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already in catalog", key))
	}
	c.connectors[key] = info
	return nil
}

// Get retrieves connector information by type ("source" or "destination") and name
func (c *ConnectorCatalog) Get(connectorType, name string) (*ConnectorInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, exists := c.connectors[connectorType+"/"+name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s/%s not found in catalog", connectorType, name))
	}
	return info, nil
}

// List returns all connectors in the catalog, sorted by type then name
func (c *ConnectorCatalog) List() []*ConnectorInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]*ConnectorInfo, 0, len(c.connectors))
	for _, info := range c.connectors {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return catalogKey(infos[i]) < catalogKey(infos[j]) })
	return infos
}

// Global catalog instance
var globalCatalog = NewConnectorCatalog()

// RegisterConnectorInfo registers connector information in the global catalog
func RegisterConnectorInfo(info *ConnectorInfo) error {
	return globalCatalog.Register(info)
}

// GetConnectorInfo retrieves connector information from the global catalog
func GetConnectorInfo(connectorType, name string) (*ConnectorInfo, error) {
	return globalCatalog.Get(connectorType, name)
}

// ListConnectorInfo lists all connectors in the global catalog
func ListConnectorInfo() []*ConnectorInfo {
	return globalCatalog.List()
}
