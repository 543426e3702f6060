package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerID   = "mcpstudio.server_id"
	metaKeyNativeName = "mcpstudio.native_name"
	metaKeyNativeURI  = "mcpstudio.native_uri"
)

// feature identifies one exposed item and the upstream item it forwards to.
type feature struct {
	Exposed  string
	ServerID string
	Native   string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target feature
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target feature
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Target   feature
}

// featureSet tracks the exposed names of one feature family per server.
type featureSet struct {
	byName   map[string]feature
	byServer map[string][]string
}

func newFeatureSet() featureSet {
	return featureSet{byName: make(map[string]feature), byServer: make(map[string][]string)}
}

func (s featureSet) removeServer(serverID string) []string {
	names := s.byServer[serverID]
	for _, name := range names {
		delete(s.byName, name)
	}
	delete(s.byServer, serverID)
	return names
}

func (s featureSet) add(f feature) {
	s.byName[f.Exposed] = f
	s.byServer[f.ServerID] = append(s.byServer[f.ServerID], f.Exposed)
}

// removed pairs the exposed names of each family that a server dropped.
type removed struct {
	Tools     []string
	Prompts   []string
	Resources []string
}

func (r removed) empty() bool {
	return len(r.Tools) == 0 && len(r.Prompts) == 0 && len(r.Resources) == 0
}

type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     featureSet
	prompts   featureSet
	resources featureSet
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:        ns,
		tools:     newFeatureSet(),
		prompts:   newFeatureSet(),
		resources: newFeatureSet(),
	}
}

func (f *featureIndex) UpdateTools(serverID string, upstream []*mcp.Tool) (removedNames []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removedNames = f.tools.removeServer(serverID)
	for _, tool := range upstream {
		if tool == nil {
			continue
		}
		target := feature{Exposed: f.ns.ToolName(serverID, tool.Name), ServerID: serverID, Native: tool.Name}
		f.tools.add(target)
		added = append(added, toolRegistration{Tool: cloneTool(tool, target), Target: target})
	}
	return removedNames, added
}

func (f *featureIndex) UpdatePrompts(serverID string, upstream []*mcp.Prompt) (removedNames []string, added []promptRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removedNames = f.prompts.removeServer(serverID)
	for _, prompt := range upstream {
		if prompt == nil {
			continue
		}
		target := feature{Exposed: f.ns.PromptName(serverID, prompt.Name), ServerID: serverID, Native: prompt.Name}
		f.prompts.add(target)
		added = append(added, promptRegistration{Prompt: clonePrompt(prompt, target), Target: target})
	}
	return removedNames, added
}

func (f *featureIndex) UpdateResources(serverID string, upstream []*mcp.Resource) (removedURIs []string, added []resourceRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removedURIs = f.resources.removeServer(serverID)
	for _, resource := range upstream {
		if resource == nil {
			continue
		}
		target := feature{Exposed: f.ns.ResourceURI(serverID, resource.URI), ServerID: serverID, Native: resource.URI}
		f.resources.add(target)
		added = append(added, resourceRegistration{Resource: cloneResource(resource, target), Target: target})
	}
	return removedURIs, added
}

// RemoveServer forgets everything exposed for serverID.
func (f *featureIndex) RemoveServer(serverID string) removed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removed{
		Tools:     f.tools.removeServer(serverID),
		Prompts:   f.prompts.removeServer(serverID),
		Resources: f.resources.removeServer(serverID),
	}
}

func (f *featureIndex) ToolTarget(name string) (feature, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools.byName[name]
	return t, ok
}

func (f *featureIndex) PromptTarget(name string) (feature, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prompts.byName[name]
	return p, ok
}

func (f *featureIndex) ResourceTarget(uri string) (feature, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.resources.byName[uri]
	return r, ok
}

// Counts reports how many tools, prompts and resources are exposed.
func (f *featureIndex) Counts() (tools, prompts, resources int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tools.byName), len(f.prompts.byName), len(f.resources.byName)
}

func cloneTool(tool *mcp.Tool, target feature) *mcp.Tool {
	clone := *tool
	clone.Name = target.Exposed
	if clone.InputSchema == nil {
		clone.InputSchema = map[string]any{"type": "object"}
	}
	clone.Meta = withMeta(tool.Meta, map[string]any{
		metaKeyServerID:   target.ServerID,
		metaKeyNativeName: target.Native,
	})
	return &clone
}

func clonePrompt(prompt *mcp.Prompt, target feature) *mcp.Prompt {
	clone := *prompt
	clone.Name = target.Exposed
	clone.Meta = withMeta(prompt.Meta, map[string]any{
		metaKeyServerID:   target.ServerID,
		metaKeyNativeName: target.Native,
	})
	return &clone
}

func cloneResource(resource *mcp.Resource, target feature) *mcp.Resource {
	clone := *resource
	clone.URI = target.Exposed
	clone.Meta = withMeta(resource.Meta, map[string]any{
		metaKeyServerID:  target.ServerID,
		metaKeyNativeURI: target.Native,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	maps.Copy(out, extras)
	return out
}
