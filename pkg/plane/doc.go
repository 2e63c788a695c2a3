// Package plane is a minimal client for the Plane REST API covering the
// resources planesync provisions: projects, cycles, modules and work items.
package plane
