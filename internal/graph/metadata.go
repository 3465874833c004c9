package graph

import "fmt"

// FeatureSchemaEntry describes one named feature: its small per-schema id
// and its value kind, resolved once at load time so kernels address
// features by id rather than re-parsing names per request (spec §3).
type FeatureSchemaEntry struct {
	Name string
	ID   int32
	Kind FeatureKind
}

// Metadata describes a graph: its name/version, per-shard node/edge counts,
// the cluster's partition count, and the feature/type name↔index maps
// every DAG node's field names (e.g. "sparse_f1") resolve through (spec §3).
type Metadata struct {
	Name           string
	Version        string
	NodeCount      int64
	EdgeCount      int64
	PartitionCount int

	nodeTypeByName map[string]int32
	nodeTypeNames  []string
	edgeTypeByName map[string]int32
	edgeTypeNames  []string

	featureByName map[string]FeatureSchemaEntry
	featureByID   map[int32]FeatureSchemaEntry
}

// NewMetadata constructs an empty Metadata ready to have types and features
// registered via RegisterNodeType/RegisterEdgeType/RegisterFeature.
func NewMetadata(name, version string, partitionCount int) *Metadata {
	return &Metadata{
		Name:           name,
		Version:        version,
		PartitionCount: partitionCount,
		nodeTypeByName: make(map[string]int32),
		edgeTypeByName: make(map[string]int32),
		featureByName:  make(map[string]FeatureSchemaEntry),
		featureByID:    make(map[int32]FeatureSchemaEntry),
	}
}

// RegisterNodeType assigns name to the next node-type index and returns it.
func (m *Metadata) RegisterNodeType(name string) int32 {
	if idx, ok := m.nodeTypeByName[name]; ok {
		return idx
	}
	idx := int32(len(m.nodeTypeNames))
	m.nodeTypeByName[name] = idx
	m.nodeTypeNames = append(m.nodeTypeNames, name)
	return idx
}

// RegisterEdgeType assigns name to the next edge-type index and returns it.
func (m *Metadata) RegisterEdgeType(name string) int32 {
	if idx, ok := m.edgeTypeByName[name]; ok {
		return idx
	}
	idx := int32(len(m.edgeTypeNames))
	m.edgeTypeByName[name] = idx
	m.edgeTypeNames = append(m.edgeTypeNames, name)
	return idx
}

// RegisterFeature assigns name a feature id and kind.
func (m *Metadata) RegisterFeature(name string, kind FeatureKind) int32 {
	if e, ok := m.featureByName[name]; ok {
		return e.ID
	}
	id := int32(len(m.featureByName))
	entry := FeatureSchemaEntry{Name: name, ID: id, Kind: kind}
	m.featureByName[name] = entry
	m.featureByID[id] = entry
	return id
}

// NodeTypeName resolves a node-type index back to its registered name.
func (m *Metadata) NodeTypeName(idx int32) (string, bool) {
	if idx < 0 || int(idx) >= len(m.nodeTypeNames) {
		return "", false
	}
	return m.nodeTypeNames[idx], true
}

// EdgeTypeName resolves an edge-type index back to its registered name.
func (m *Metadata) EdgeTypeName(idx int32) (string, bool) {
	if idx < 0 || int(idx) >= len(m.edgeTypeNames) {
		return "", false
	}
	return m.edgeTypeNames[idx], true
}

// NodeTypeCount returns the number of distinct registered node types.
func (m *Metadata) NodeTypeCount() int { return len(m.nodeTypeNames) }

// EdgeTypeCount returns the number of distinct registered edge types.
func (m *Metadata) EdgeTypeCount() int { return len(m.edgeTypeNames) }

// Feature resolves a feature name to its schema entry.
func (m *Metadata) Feature(name string) (FeatureSchemaEntry, bool) {
	e, ok := m.featureByName[name]
	return e, ok
}

// FeatureByID resolves a feature id to its schema entry.
func (m *Metadata) FeatureByID(id int32) (FeatureSchemaEntry, bool) {
	e, ok := m.featureByID[id]
	return e, ok
}

// Validate checks the cross-field invariants spec §3 requires of metadata
// before a store built from it is handed to query serving.
func (m *Metadata) Validate(shardNodeCount, shardEdgeCount int64) error {
	if m.PartitionCount <= 0 {
		return fmt.Errorf("graph metadata: partition count must be positive, got %d", m.PartitionCount)
	}
	if m.NodeCount != 0 && shardNodeCount > m.NodeCount {
		return fmt.Errorf("graph metadata: shard node count %d exceeds declared total %d", shardNodeCount, m.NodeCount)
	}
	if m.EdgeCount != 0 && shardEdgeCount > m.EdgeCount {
		return fmt.Errorf("graph metadata: shard edge count %d exceeds declared total %d", shardEdgeCount, m.EdgeCount)
	}
	return nil
}
