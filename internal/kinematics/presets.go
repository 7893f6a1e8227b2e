package kinematics

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/spatial"
)

var earthGravity = r3.Vector{Z: -9.81}

// Arm7 is a 7-DOF redundant arm with a spherical shoulder and wrist
// (iiwa-style DH parameters).
func Arm7() *Chain {
	const h = math.Pi / 2
	lim := 2.9
	return &Chain{
		Name: "arm7",
		Links: []Link{
			{Name: "a1", D: 0.36, Alpha: -h, Mass: 4.0, COM: r3.Vector{Y: 0.03, Z: 0.02}, Inertia: 0.05, Armature: 0.1, Damping: 0.1, Lower: -lim, Upper: lim},
			{Name: "a2", Alpha: h, Mass: 4.0, COM: r3.Vector{Y: -0.03, Z: 0.06}, Inertia: 0.05, Armature: 0.1, Damping: 0.1, Lower: -2.0, Upper: 2.0},
			{Name: "a3", D: 0.42, Alpha: h, Mass: 3.0, COM: r3.Vector{Y: 0.03, Z: 0.02}, Inertia: 0.03, Armature: 0.1, Damping: 0.1, Lower: -lim, Upper: lim},
			{Name: "a4", Alpha: -h, Mass: 2.7, COM: r3.Vector{Y: 0.03, Z: 0.06}, Inertia: 0.03, Armature: 0.1, Damping: 0.1, Lower: -2.0, Upper: 2.0},
			{Name: "a5", D: 0.4, Alpha: -h, Mass: 1.7, COM: r3.Vector{Y: 0.02, Z: -0.02}, Inertia: 0.01, Armature: 0.05, Damping: 0.05, Lower: -lim, Upper: lim},
			{Name: "a6", Alpha: h, Mass: 1.8, COM: r3.Vector{Y: -0.01}, Inertia: 0.01, Armature: 0.05, Damping: 0.05, Lower: -2.0, Upper: 2.0},
			{Name: "a7", D: 0.126, Mass: 0.3, COM: r3.Vector{Z: -0.02}, Inertia: 0.002, Armature: 0.05, Damping: 0.05, Lower: -3.0, Upper: 3.0},
		},
		Tool:    spatial.Transform{R: spatial.Identity(), P: r3.Vector{Z: 0.1}},
		G:       earthGravity,
		Neutral: []float64{0, 0.4, 0, -1.2, 0, 0.8, 0},
	}
}

// Cartesian6 is an XYZ gantry carrying a spherical wrist whose centre is the
// tool point, so translation and rotation decouple. The wrist is singular at
// a pitch (joint 5) of +/- pi/2.
func Cartesian6() *Chain {
	const h = math.Pi / 2
	return &Chain{
		Name: "cartesian6",
		Links: []Link{
			{Name: "z", Joint: Prismatic, Alpha: -h, Mass: 2.0, Armature: 0.5, Lower: -1, Upper: 1},
			{Name: "y", Joint: Prismatic, Offset: h, Alpha: h, Mass: 1.5, Armature: 0.5, Lower: -1, Upper: 1},
			{Name: "x", Joint: Prismatic, Mass: 1.0, Armature: 0.5, Lower: -1, Upper: 1},
			{Name: "roll", Alpha: -h, Mass: 0.3, Inertia: 0.002, Armature: 0.02, Lower: -math.Pi, Upper: math.Pi},
			{Name: "pitch", Offset: h, Alpha: h, Mass: 0.2, Inertia: 0.002, Armature: 0.02, Lower: -math.Pi, Upper: math.Pi},
			{Name: "yaw", Mass: 0.1, Inertia: 0.001, Armature: 0.02, Lower: -math.Pi, Upper: math.Pi},
		},
		Tool:    spatial.IdentityTransform(),
		G:       earthGravity,
		Neutral: []float64{0.3, 0.1, 0.4, 0, 0, 0},
	}
}

// SO101 is the 5-DOF desktop arm driven by feetech STS servos. The gripper
// is actuated separately and is not part of the chain.
func SO101() *Chain {
	const h = math.Pi / 2
	return &Chain{
		Name: "so101",
		Links: []Link{
			{Name: "shoulder_pan", D: 0.12, A: 0.03, Alpha: h, Mass: 0.12, COM: r3.Vector{Z: 0.02}, Inertia: 1e-4, Armature: 0.01, Damping: 0.02, Lower: -1.9, Upper: 1.9},
			{Name: "shoulder_lift", A: 0.116, Offset: h, Mass: 0.1, COM: r3.Vector{X: -0.06}, Inertia: 1e-4, Armature: 0.01, Damping: 0.02, Lower: -1.7, Upper: 1.7},
			{Name: "elbow_flex", A: 0.135, Offset: -h, Mass: 0.09, COM: r3.Vector{X: -0.07}, Inertia: 1e-4, Armature: 0.01, Damping: 0.02, Lower: -1.6, Upper: 1.6},
			{Name: "wrist_flex", Offset: h, Alpha: h, Mass: 0.05, COM: r3.Vector{Z: -0.02}, Inertia: 5e-5, Armature: 0.005, Damping: 0.01, Lower: -1.7, Upper: 1.7},
			{Name: "wrist_roll", D: 0.1, Mass: 0.04, COM: r3.Vector{Z: -0.03}, Inertia: 5e-5, Armature: 0.005, Damping: 0.01, Lower: -2.7, Upper: 2.7},
		},
		Tool:    spatial.IdentityTransform(),
		G:       earthGravity,
		Neutral: []float64{0, -0.3, 0.5, 0.3, 0},
	}
}

var chains = map[string]func() *Chain{
	"arm7":       Arm7,
	"cartesian6": Cartesian6,
	"so101":      SO101,
}

// Lookup returns a fresh copy of the named chain preset.
func Lookup(name string) (*Chain, error) {
	f, ok := chains[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %q", arm.ErrInvalidConfig, name)
	}
	return f(), nil
}

func Names() []string {
	names := make([]string, 0, len(chains))
	for n := range chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
