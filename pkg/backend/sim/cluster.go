package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/autoops/autoops/pkg/engine"
	"github.com/autoops/autoops/pkg/telemetry"
)

// Cluster is an in-memory resource backend that mimics a cluster API.
// It enforces namespace scoping, name uniqueness, and existence checks,
// and classifies its failures the way a real API client would.
type Cluster struct {
	mu         sync.RWMutex
	namespaces map[string]struct{}
	resources  map[resourceKey]*resource
	latency    time.Duration
	logger     *telemetry.Logger
}

type resourceKey struct {
	kind      engine.ResourceKind
	namespace string
	name      string
}

type resource struct {
	Kind      engine.ResourceKind `json:"kind"`
	Name      string              `json:"name"`
	Namespace string              `json:"namespace"`
	Replicas  int                 `json:"replicas,omitempty"`
	Manifest  json.RawMessage     `json:"manifest,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Option configures the simulated cluster.
type Option func(*Cluster)

// WithLatency adds a fixed delay to every call.
func WithLatency(d time.Duration) Option {
	return func(c *Cluster) { c.latency = d }
}

// WithLogger sets the backend logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(c *Cluster) { c.logger = logger.NewComponentLogger("backend") }
}

// NewCluster creates a simulated cluster with the default and
// kube-system namespaces pre-provisioned.
func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		namespaces: map[string]struct{}{
			"default":     {},
			"kube-system": {},
		},
		resources: make(map[resourceKey]*resource),
		logger:    telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cluster) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Create creates a resource from a manifest. The manifest must carry a
// name, either as a top-level "name" field or under "metadata".
func (c *Cluster) Create(ctx context.Context, kind engine.ResourceKind, namespace string, manifest json.RawMessage) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	name, err := manifestName(manifest)
	if err != nil {
		return nil, engine.NewPermanentError("manifest is missing a name", err).
			WithCode(engine.ErrCodeBackend)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == engine.KindNamespace {
		if _, ok := c.namespaces[name]; ok {
			return nil, engine.NewConflictError(fmt.Sprintf("namespace %s already exists", name), nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithResource(name)
		}
		c.namespaces[name] = struct{}{}
		c.logger.WithField("namespace", name).Debug("namespace created")
		return respond("created", kind, name, "")
	}

	if err := c.requireNamespace(namespace); err != nil {
		return nil, err
	}
	key := resourceKey{kind: kind, namespace: namespace, name: name}
	if _, ok := c.resources[key]; ok {
		return nil, engine.NewConflictError(
			fmt.Sprintf("%s %s/%s already exists", kind, namespace, name), nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(name)
	}

	now := time.Now().UTC()
	c.resources[key] = &resource{
		Kind:      kind,
		Name:      name,
		Namespace: namespace,
		Replicas:  manifestReplicas(manifest),
		Manifest:  manifest,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.logger.WithField("resource", key.name).Debug("resource created")
	return respond("created", kind, name, namespace)
}

// Update replaces an existing resource's manifest.
func (c *Cluster) Update(ctx context.Context, kind engine.ResourceKind, namespace, name string, manifest json.RawMessage) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.lookup(kind, namespace, name)
	if err != nil {
		return nil, err
	}
	res.Manifest = manifest
	if r := manifestReplicas(manifest); r > 0 {
		res.Replicas = r
	}
	res.UpdatedAt = time.Now().UTC()
	return respond("updated", kind, name, namespace)
}

// Delete removes a resource. Deleting a namespace removes everything
// in it.
func (c *Cluster) Delete(ctx context.Context, kind engine.ResourceKind, namespace, name string) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == engine.KindNamespace {
		if _, ok := c.namespaces[name]; !ok {
			return nil, notFound(kind, namespace, name)
		}
		delete(c.namespaces, name)
		for key := range c.resources {
			if key.namespace == name {
				delete(c.resources, key)
			}
		}
		return respond("deleted", kind, name, "")
	}

	key := resourceKey{kind: kind, namespace: namespace, name: name}
	if _, ok := c.resources[key]; !ok {
		return nil, notFound(kind, namespace, name)
	}
	delete(c.resources, key)
	return respond("deleted", kind, name, namespace)
}

// Scale sets the replica count of an existing workload.
func (c *Cluster) Scale(ctx context.Context, kind engine.ResourceKind, namespace, name string, replicas int) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	if replicas < 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("replica count must not be negative, got %d", replicas), nil).
			WithCode(engine.ErrCodeBackend)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.lookup(kind, namespace, name)
	if err != nil {
		return nil, err
	}
	res.Replicas = replicas
	res.UpdatedAt = time.Now().UTC()
	return json.Marshal(map[string]any{
		"status":    "scaled",
		"kind":      kind,
		"name":      name,
		"namespace": namespace,
		"replicas":  replicas,
	})
}

// Patch merges a partial manifest into an existing resource's manifest.
func (c *Cluster) Patch(ctx context.Context, kind engine.ResourceKind, namespace, name string, patch json.RawMessage) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.lookup(kind, namespace, name)
	if err != nil {
		return nil, err
	}
	merged, err := mergeManifests(res.Manifest, patch)
	if err != nil {
		return nil, engine.NewPermanentError("patch is not a JSON object", err).
			WithCode(engine.ErrCodeBackend)
	}
	res.Manifest = merged
	if r := manifestReplicas(patch); r > 0 {
		res.Replicas = r
	}
	res.UpdatedAt = time.Now().UTC()
	return respond("patched", kind, name, namespace)
}

// Get returns an existing resource record.
func (c *Cluster) Get(ctx context.Context, kind engine.ResourceKind, namespace, name string) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kind == engine.KindNamespace {
		if _, ok := c.namespaces[name]; !ok {
			return nil, notFound(kind, namespace, name)
		}
		return json.Marshal(map[string]any{"kind": kind, "name": name})
	}
	res, err := c.lookup(kind, namespace, name)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// List returns all resources of a kind in a namespace, sorted by name.
func (c *Cluster) List(ctx context.Context, kind engine.ResourceKind, namespace string) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, engine.NewTransientError("backend call interrupted", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kind == engine.KindNamespace {
		names := make([]string, 0, len(c.namespaces))
		for name := range c.namespaces {
			names = append(names, name)
		}
		sort.Strings(names)
		return json.Marshal(map[string]any{"kind": kind, "items": names})
	}

	if err := c.requireNamespace(namespace); err != nil {
		return nil, err
	}
	items := make([]*resource, 0)
	for key, res := range c.resources {
		if key.kind == kind && key.namespace == namespace {
			items = append(items, res)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return json.Marshal(map[string]any{"kind": kind, "namespace": namespace, "items": items})
}

// lookup must be called with the mutex held.
func (c *Cluster) lookup(kind engine.ResourceKind, namespace, name string) (*resource, error) {
	if err := c.requireNamespace(namespace); err != nil {
		return nil, err
	}
	res, ok := c.resources[resourceKey{kind: kind, namespace: namespace, name: name}]
	if !ok {
		return nil, notFound(kind, namespace, name)
	}
	return res, nil
}

func (c *Cluster) requireNamespace(namespace string) error {
	if _, ok := c.namespaces[namespace]; !ok {
		return engine.NewPermanentError(
			fmt.Sprintf("namespace %s does not exist", namespace), nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(namespace)
	}
	return nil
}

func notFound(kind engine.ResourceKind, namespace, name string) error {
	return engine.NewPermanentError(
		fmt.Sprintf("%s %s/%s not found", kind, namespace, name), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(name)
}

func respond(status string, kind engine.ResourceKind, name, namespace string) (json.RawMessage, error) {
	body := map[string]any{"status": status, "kind": kind, "name": name}
	if namespace != "" {
		body["namespace"] = namespace
	}
	return json.Marshal(body)
}

// manifestName extracts the resource name from a manifest, accepting
// both a top-level "name" and the nested "metadata" form.
func manifestName(manifest json.RawMessage) (string, error) {
	var doc struct {
		Name     string `json:"name"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(manifest, &doc); err != nil {
		return "", err
	}
	if doc.Name != "" {
		return doc.Name, nil
	}
	if doc.Metadata.Name != "" {
		return doc.Metadata.Name, nil
	}
	return "", fmt.Errorf("no name in manifest")
}

func manifestReplicas(manifest json.RawMessage) int {
	var doc struct {
		Replicas int `json:"replicas"`
		Spec     struct {
			Replicas int `json:"replicas"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(manifest, &doc); err != nil {
		return 0
	}
	if doc.Replicas > 0 {
		return doc.Replicas
	}
	return doc.Spec.Replicas
}

func mergeManifests(base, patch json.RawMessage) (json.RawMessage, error) {
	var target map[string]any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &target); err != nil {
			return nil, err
		}
	}
	if target == nil {
		target = make(map[string]any)
	}
	var overlay map[string]any
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		target[k] = v
	}
	return json.Marshal(target)
}
