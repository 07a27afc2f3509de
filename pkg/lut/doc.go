// Package lut builds, stores and caches the radiative transfer lookup tables
// used by the inversion.
//
// A Table holds one row per parameter sample: the sampled parameters first,
// then the simulated reflectance of every sensor band. Tables are built by a
// Builder from a parameter file (CSV or JSON5), a sampling method (frs or
// lhs) and a ForwardModel, normally the HTTP RTMClient. They are stored as a
// single BSON document in the scene's _lut.pkl artifact.
//
// Cache.GetOrBuild reuses an existing artifact and never runs the forward
// model twice for a scene. With RevalidateFingerprint it rebuilds tables
// whose settings fingerprint no longer matches.
package lut
