// SPDX-License-Identifier: MPL-2.0

// Package environ manages isolated execution environments: a Python
// interpreter version plus a pinned requirement set, materialized on disk
// under a directory derived from the environment's identity hash.
//
// An Environment owns its directory, its variable namespace, its build
// cache handle and its persisted install status. Tool kinds ("venv",
// "existing") plug in through the Tool capability interface and are selected
// through an explicit Registry, populated at startup.
package environ
