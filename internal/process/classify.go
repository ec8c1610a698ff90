package process

// ModelMetadata carries the explicit feature role lists reported by the
// model registry when a model is loaded. Any of the lists may be empty.
type ModelMetadata struct {
	MVs    []string
	CVs    []string
	DVs    []string
	Target string
}

// fallbackRoles maps domain-known tag names to roles for models whose
// metadata does not classify features. Tags describing something the
// operator can actuate (feeds, flows, speeds, line measurements that track
// actuation) are MVs; ore-composition tags the plant cannot influence are
// DVs. Anything else stays Unknown and is treated as CV downstream.
var fallbackRoles = map[string]Role{
	// Manipulated
	"Ore":        RoleMV,
	"WaterMill":  RoleMV,
	"WaterZumpf": RoleMV,
	"MotorAmp":   RoleMV,
	"PumpRPM":    RoleMV,
	"PressureHC": RoleMV,
	"DensityHC":  RoleMV,
	"PulpHC":     RoleMV,

	// Disturbances (ore characteristics)
	"Shisti":  RoleDV,
	"Daiki":   RoleDV,
	"Grano":   RoleDV,
	"Class_2": RoleDV,
	"FE":      RoleDV,
}

// Classify maps each feature id to a role. Explicit metadata wins: the first
// list containing the id decides. Without metadata the static fallback table
// applies. Ids matched by neither degrade to RoleUnknown; Classify never
// fails.
func Classify(features []string, meta *ModelMetadata) map[string]Role {
	roles := make(map[string]Role, len(features))
	for _, id := range features {
		roles[id] = classifyOne(id, meta)
	}
	return roles
}

func classifyOne(id string, meta *ModelMetadata) Role {
	if meta != nil {
		for _, mv := range meta.MVs {
			if mv == id {
				return RoleMV
			}
		}
		for _, cv := range meta.CVs {
			if cv == id {
				return RoleCV
			}
		}
		for _, dv := range meta.DVs {
			if dv == id {
				return RoleDV
			}
		}
		if meta.Target == id {
			return RoleTarget
		}
		return RoleUnknown
	}
	if role, ok := fallbackRoles[id]; ok {
		return role
	}
	return RoleUnknown
}

// EffectiveRole resolves the CV-by-convention rule: Unknown reads as CV.
func EffectiveRole(r Role) Role {
	if r == RoleUnknown {
		return RoleCV
	}
	return r
}
