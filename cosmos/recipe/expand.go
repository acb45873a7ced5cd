package recipe

import (
	"fmt"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// expandGroups computes one group per Task the stage will produce, per
// spec §4.4's relationship rules. A stage with no parent edges is a root
// stage: one group per entry of spec.Expand (or a single, tag-less group
// when Expand is also empty, for a stage with exactly one static Task).
func expandGroups(spec StageSpec, tasksByStage map[string][]*model.Task) ([]group, error) {
	if len(spec.Parents) == 0 {
		if len(spec.Expand) == 0 {
			return []group{{Tags: map[string]any{}}}, nil
		}
		return expandTagSets(spec.Expand), nil
	}

	combined := []group{{Tags: map[string]any{}}}
	for _, edge := range spec.Parents {
		parents, ok := tasksByStage[edge.Stage]
		if !ok {
			return nil, fmt.Errorf("unknown parent stage %q", edge.Stage)
		}
		edgeGroups, err := groupsForEdge(edge, parents)
		if err != nil {
			return nil, err
		}
		combined = cartesian(combined, edgeGroups)
	}

	if len(spec.Expand) > 0 {
		combined = cartesian(combined, expandTagSets(spec.Expand))
	}

	return combined, nil
}

// groupsForEdge expands one parent edge's tasks according to its
// RelationshipType, independent of any other edge the stage declares.
func groupsForEdge(edge ParentEdge, parents []*model.Task) ([]group, error) {
	switch edge.Relationship {
	case model.RelOneToOne, model.RelOneToMany:
		return perTaskGroups(parents), nil

	case model.RelManyToOne:
		if len(edge.GroupBy) == 0 {
			return nil, fmt.Errorf("many2one edge on stage %q requires GroupBy", edge.Stage)
		}
		return groupByTagSubset(parents, edge.GroupBy), nil

	case model.RelManyToMany:
		// With no explicit GroupBy, many2many keeps every parent Task
		// distinct so the outer cartesian() product spans every
		// combination across edges (spec §4.4 "full Cartesian product
		// of parent groupings"); an explicit GroupBy narrows each edge
		// to its named tag subset first, same as many2one.
		if len(edge.GroupBy) == 0 {
			return perTaskGroups(parents), nil
		}
		return groupByTagSubset(parents, edge.GroupBy), nil

	default:
		return nil, fmt.Errorf("unknown relationship type %q", edge.Relationship)
	}
}

// perTaskGroups gives each parent Task its own group, preserving its
// full tag set; used for one2one/one2many edges and for many2many edges
// with no explicit GroupBy.
func perTaskGroups(parents []*model.Task) []group {
	groups := make([]group, 0, len(parents))
	for _, p := range parents {
		groups = append(groups, group{ParentIDs: []string{p.ID}, Tags: copyTags(p.Tags)})
	}
	return groups
}

// groupByTagSubset buckets parents by the values of groupBy tag keys
// (spec §4.4 "one child per distinct grouping of parents' tags on a
// specified subset of tag keys").
func groupByTagSubset(parents []*model.Task, groupBy []string) []group {
	buckets := map[string]*group{}
	var order []string

	for _, p := range parents {
		tags := map[string]any{}
		for _, k := range groupBy {
			tags[k] = p.Tags[k]
		}
		key := tagsKey(tags)
		b, ok := buckets[key]
		if !ok {
			b = &group{Tags: tags}
			buckets[key] = b
			order = append(order, key)
		}
		b.ParentIDs = append(b.ParentIDs, p.ID)
	}

	groups := make([]group, 0, len(order))
	for _, key := range order {
		groups = append(groups, *buckets[key])
	}
	return groups
}

// expandTagSets turns a Recipe's declared tag-expansion entries into
// parent-less groups, in declaration order.
func expandTagSets(sets []map[string]any) []group {
	groups := make([]group, 0, len(sets))
	for _, s := range sets {
		groups = append(groups, group{Tags: copyTags(s)})
	}
	return groups
}

// cartesian merges every pair of (left, right) groups: parent IDs
// concatenate, and right's tags take precedence on key collision.
func cartesian(left, right []group) []group {
	out := make([]group, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			merged := group{
				ParentIDs: append(append([]string{}, l.ParentIDs...), r.ParentIDs...),
				Tags:      copyTags(l.Tags),
			}
			for k, v := range r.Tags {
				merged.Tags[k] = v
			}
			out = append(out, merged)
		}
	}
	return out
}

func copyTags(tags map[string]any) map[string]any {
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
