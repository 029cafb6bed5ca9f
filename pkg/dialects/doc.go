// Package dialects provides example dialects. Importing the package
// registers them:
//
//   - identity leaves modules unchanged.
//   - guard runs the module body inside "if 1:".
//   - unless adds an "unless COND:" statement.
//   - trace prints the source and value of each bare expression statement.
package dialects
