package episodic

// Policy is a top-level operating constraint, independent of episodes.
// Higher priority wins when policies conflict.
type Policy struct {
	PolicyID  string       `json:"policy_id"`
	Statement string       `json:"statement"`
	Scope     PolicyScope  `json:"scope"`
	Priority  int          `json:"priority"`
	Source    PolicySource `json:"source"`
}

// NewPolicy creates a policy with a derived ID.
func NewPolicy(statement string, scope PolicyScope, priority int, source PolicySource) *Policy {
	return &Policy{
		PolicyID:  NewID(string(scope) + "|" + statement),
		Statement: statement,
		Scope:     scope,
		Priority:  priority,
		Source:    source,
	}
}

// ToMap serializes the policy for persistence.
func (p *Policy) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"policy_id": p.PolicyID,
		"statement": p.Statement,
		"scope":     string(p.Scope),
		"priority":  p.Priority,
		"source":    string(p.Source),
	}
}

// PolicyFromMap reconstructs a policy from its map form.
func PolicyFromMap(m map[string]interface{}) *Policy {
	return &Policy{
		PolicyID:  asString(m["policy_id"]),
		Statement: asString(m["statement"]),
		Scope:     ParsePolicyScope(asString(m["scope"])),
		Priority:  asInt(m["priority"]),
		Source:    ParsePolicySource(asString(m["source"])),
	}
}
