package planner

// Well-known types carry fixed ranks so that objects are created before
// the objects that reference them. Everything else shares one rank and
// falls back to alphabetical ordering.
var wellKnownRanks = map[string]int{
	"dcim.site":       0,
	"dcim.device":     1,
	"dcim.interface":  2,
	"ipam.prefix":     3,
	"ipam.ip_address": 4,
}

const defaultRank = 100

// TypeRank returns the dependency rank of a type. Lower ranks are
// created and updated first; deletes walk ranks in reverse.
func TypeRank(typeName string) int {
	if rank, ok := wellKnownRanks[typeName]; ok {
		return rank
	}
	return defaultRank
}

// opLess orders operations within one phase: rank, then type name, then
// canonical key. reverse flips the rank and type comparison for the
// delete phase while keeping key order stable.
func opLess(a, b Operation, reverse bool) bool {
	ra, rb := TypeRank(a.Type), TypeRank(b.Type)
	if ra != rb {
		if reverse {
			return ra > rb
		}
		return ra < rb
	}
	if a.Type != b.Type {
		if reverse {
			return a.Type > b.Type
		}
		return a.Type < b.Type
	}
	return a.Key < b.Key
}
