package policy

// GetBuiltinPolicies returns the policies every engine starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		batchLimitsPolicy(),
		issuePriorityPolicy(),
		cycleDatesPolicy(),
		issueNestingPolicy(),
		duplicateNamesPolicy(),
	}
}

// batchLimitsPolicy caps the number of resources one batch may create.
func batchLimitsPolicy() Policy {
	return Policy{
		Name:        "batch-limits",
		Description: "Rejects batches that would create more than 500 resources",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package planesync.policies.limits

import rego.v1

max_resources := 500

total := ((input.counts.projects + input.counts.cycles) + input.counts.modules) + input.counts.issues

deny contains violation if {
	total > max_resources
	violation := {
		"message": sprintf("batch declares %d resources, the limit is %d", [total, max_resources]),
		"severity": "error",
	}
}

deny contains violation if {
	input.counts.projects == 0
	violation := {
		"message": "batch declares no projects",
		"severity": "error",
	}
}
`,
	}
}

// issuePriorityPolicy flags priorities Plane will not accept.
func issuePriorityPolicy() Policy {
	return Policy{
		Name:        "issue-priority",
		Description: "Warns about issue priorities outside urgent, high, medium, low and none",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"issues"},
		Rego: `package planesync.policies.priority

import rego.v1

valid_priorities := {"urgent", "high", "medium", "low", "none"}

issue_path(path) if {
	n := count(path)
	n >= 2
	is_number(path[n - 1])
	path[n - 2] in {"issues", "sub_issues"}
}

deny contains violation if {
	some path, issue
	walk(input.template, [path, issue])
	issue_path(path)
	priority := object.get(issue, "priority", "none")
	not priority in valid_priorities
	violation := {
		"message": sprintf("issue %q has unknown priority %q", [issue.name, priority]),
		"severity": "warning",
		"path": concat(".", [sprintf("%v", [p]) | some p in path]),
	}
}
`,
	}
}

// cycleDatesPolicy requires cycle dates to come in ordered pairs.
func cycleDatesPolicy() Policy {
	return Policy{
		Name:        "cycle-dates",
		Description: "Cycles must set both start_date and end_date, with the end not before the start",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"cycles"},
		Rego: `package planesync.policies.cycles

import rego.v1

deny contains violation if {
	some i, j
	cycle := input.template.projects[i].cycles[j]
	cycle.start_date
	not cycle.end_date
	violation := {
		"message": sprintf("cycle %q has a start_date but no end_date", [cycle.name]),
		"severity": "error",
		"path": sprintf("projects.%d.cycles.%d", [i, j]),
	}
}

deny contains violation if {
	some i, j
	cycle := input.template.projects[i].cycles[j]
	cycle.end_date
	not cycle.start_date
	violation := {
		"message": sprintf("cycle %q has an end_date but no start_date", [cycle.name]),
		"severity": "error",
		"path": sprintf("projects.%d.cycles.%d", [i, j]),
	}
}

deny contains violation if {
	some i, j
	cycle := input.template.projects[i].cycles[j]
	cycle.end_date < cycle.start_date
	violation := {
		"message": sprintf("cycle %q ends (%s) before it starts (%s)", [cycle.name, cycle.end_date, cycle.start_date]),
		"severity": "error",
		"path": sprintf("projects.%d.cycles.%d", [i, j]),
	}
}
`,
	}
}

// issueNestingPolicy warns about deep sub-issue trees.
func issueNestingPolicy() Policy {
	return Policy{
		Name:        "issue-nesting",
		Description: "Warns when sub-issues are nested more than 4 levels deep",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"issues"},
		Rego: `package planesync.policies.nesting

import rego.v1

max_depth := 4

deny contains violation if {
	some path, issue
	walk(input.template, [path, issue])
	n := count(path)
	n >= 2
	path[n - 2] == "sub_issues"
	depth := count([p | some p in path; p == "sub_issues"])
	depth > max_depth
	violation := {
		"message": sprintf("issue %q is nested %d levels deep", [issue.name, depth]),
		"severity": "warning",
		"path": concat(".", [sprintf("%v", [p]) | some p in path]),
	}
}
`,
	}
}

// duplicateNamesPolicy flags names that make cycle and module links ambiguous.
func duplicateNamesPolicy() Policy {
	return Policy{
		Name:        "duplicate-names",
		Description: "Warns about repeated project, cycle or module names",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming"},
		Rego: `package planesync.policies.duplicates

import rego.v1

deny contains violation if {
	some i, j
	input.template.projects[i].name == input.template.projects[j].name
	i < j
	violation := {
		"message": sprintf("project name %q is used more than once", [input.template.projects[j].name]),
		"severity": "warning",
		"path": sprintf("projects.%d", [j]),
	}
}

deny contains violation if {
	some i, j, k
	project := input.template.projects[i]
	project.cycles[j].name == project.cycles[k].name
	j < k
	violation := {
		"message": sprintf("cycle name %q is used more than once in project %q", [project.cycles[k].name, project.name]),
		"severity": "warning",
		"path": sprintf("projects.%d.cycles.%d", [i, k]),
	}
}

deny contains violation if {
	some i, j, k
	project := input.template.projects[i]
	project.modules[j].name == project.modules[k].name
	j < k
	violation := {
		"message": sprintf("module name %q is used more than once in project %q", [project.modules[k].name, project.name]),
		"severity": "warning",
		"path": sprintf("projects.%d.modules.%d", [i, k]),
	}
}
`,
	}
}
