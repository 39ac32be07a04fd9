// Package shell parses and executes lines of ;-separated command chains joined
// by &&, || and | with the cd, exit and history builtins.
package shell
