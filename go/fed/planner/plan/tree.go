/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plan

import (
	"encoding/json"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/xlab/treeprint"

	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Description is the JSON form of a node.
type Description struct {
	OperatorType string        `json:"OperatorType"`
	Details      string        `json:"Details,omitempty"`
	Source       string        `json:"Source,omitempty"`
	Query        string        `json:"Query,omitempty"`
	Annotations  []string      `json:"Annotations,omitempty"`
	Outputs      []string      `json:"Outputs,omitempty"`
	Inputs       []Description `json:"Inputs,omitempty"`
}

// TypeName returns the name of the node's type.
func TypeName(node Node) string {
	return reflect.TypeOf(node).Elem().Name()
}

func describeNode(node Node) Description {
	descr := Description{
		OperatorType: TypeName(node),
		Details:      node.ShortDescription(),
	}
	for _, c := range node.Outputs() {
		descr.Outputs = append(descr.Outputs, c.Key())
	}
	if access, ok := node.(*Access); ok {
		descr.Details = ""
		if access.Dependent {
			descr.Details = "dependent"
		}
		descr.Source = access.Source
		if access.Command != nil {
			descr.Query = sqlast.String(access.Command)
		}
		descr.Annotations = access.Annotations
	}
	return descr
}

func buildDescriptionTree(node Node) Description {
	descr := describeNode(node)
	for _, in := range node.Inputs() {
		descr.Inputs = append(descr.Inputs, buildDescriptionTree(in))
	}
	return descr
}

// ToJSON renders the tree as indented JSON. It panics if the description
// cannot be marshalled, which would be a bug.
func ToJSON(root Node) string {
	out, err := json.MarshalIndent(buildDescriptionTree(root), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(out)
}

// ToTree renders the tree for humans.
func ToTree(root Node) string {
	return asTree(root, nil).String()
}

func asTree(node Node, root treeprint.Tree) treeprint.Tree {
	txt := Describe(node)
	var branch treeprint.Tree
	if root == nil {
		branch = treeprint.NewWithRoot(txt)
	} else {
		branch = root.AddBranch(txt)
	}
	for _, child := range node.Inputs() {
		asTree(child, branch)
	}
	return branch
}

// Fingerprint hashes the JSON form of the tree. Two trees with the same
// fingerprint print the same.
func Fingerprint(root Node) uint64 {
	return xxhash.Sum64String(ToJSON(root))
}
