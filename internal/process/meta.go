// SPDX-License-Identifier: MPL-2.0

package process

import (
	"bytes"
	"fmt"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/datafinder"
)

const metaOutput = "drs"

// meta reports the pruned archive tree for the variables and frequency of
// another process.
func (e *Executor) meta(req Request, out *outputSet) error {
	req.Reporter.Update(0, MsgStarting)

	id := ""
	if vs := req.Inputs[catalog.MetaProcessOption]; len(vs) > 0 {
		id = vs[0]
	}
	if e.Catalog == nil {
		return fmt.Errorf("meta: no catalog")
	}
	target, ok := e.Catalog.Get(id)
	if !ok {
		return fmt.Errorf("meta: unknown process %q", id)
	}

	tree := &datafinder.Node{Name: datafinder.RootName}
	if e.Data != nil {
		tree = e.Data.PrunedTree(target.Variables, target.Frequency)
	}

	var buf bytes.Buffer
	if err := datafinder.WriteJSON(&buf, tree); err != nil {
		return fmt.Errorf("meta: %w", err)
	}
	out.literal(metaOutput, buf.String())
	req.Reporter.Update(100, MsgDone)
	return nil
}
