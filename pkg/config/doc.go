/*
Package config loads runtime configuration for the stackd CLI.

Configuration comes from three layers, later overriding earlier: built-in
defaults, an optional YAML config file, and STACKD_-prefixed environment
variables. Topology files are not configuration; they are parsed by the
compose package.
*/
package config
