package stream

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/control"
	"github.com/vdisk/petastore/directory"
)

// LinkageViolation records a chain where next/prev or start-sequencing
// doesn't hold.
type LinkageViolation struct {
	Block petastore.BlobID `yaml:"block"`
	Issue string           `yaml:"issue"`
}

// OrphanedChain is a control chain no live directory entry points to.
// Tombstone deletes produce these; they are unreachable space, not a
// defect. Fsck does not search for orphaned chains, so the Orphans list
// of the reports it returns is always empty.
type OrphanedChain struct {
	FirstControl petastore.BlobID `yaml:"first_control"`
	ControlBlocks int             `yaml:"control_blocks"`
	DataBlobs     int             `yaml:"data_blobs"`
}

// Report is the result of Fsck, serializable to YAML for storage
// alongside a Layout snapshot.
type Report struct {
	Layout      petastore.Layout   `yaml:"layout"`
	FilesOK     int                `yaml:"files_ok"`
	Linkage     []LinkageViolation `yaml:"linkage_violations,omitempty"`
	Orphans     []OrphanedChain    `yaml:"orphaned_chains,omitempty"`
	TypeErrors  []string           `yaml:"type_errors,omitempty"`
}

// Clean reports whether no violations were found. Orphaned chains alone
// do not count as unclean.
func (r Report) Clean() bool {
	return len(r.Linkage) == 0 && len(r.TypeErrors) == 0
}

// YAML marshals the report the way it would be written alongside a dump.
func (r Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Fsck walks every directory bucket concurrently, follows each live
// entry's control chain, and checks the chain-linkage and
// start-sequencing invariants. Fsck neither repairs nor writes anything;
// it only reports.
func (fs *Filesystem) Fsck(ctx context.Context) (*Report, error) {
	report := &Report{Layout: fs.layout}

	g, _ := errgroup.WithContext(ctx)
	results := make([]*Report, fs.layout.DirHeads)

	for i := uint32(0); i < fs.layout.DirHeads; i++ {
		i := i
		g.Go(func() error {
			bucket := petastore.BlobID(i) + 1
			sub, err := fs.checkBucket(bucket)
			if err != nil {
				return err
			}
			results[i] = sub
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, sub := range results {
		report.FilesOK += sub.FilesOK
		report.Linkage = append(report.Linkage, sub.Linkage...)
		report.Orphans = append(report.Orphans, sub.Orphans...)
		report.TypeErrors = append(report.TypeErrors, sub.TypeErrors...)
	}

	fs.log.WithFields(logrus.Fields{
		"files_ok": report.FilesOK,
		"linkage_violations": len(report.Linkage),
		"orphaned_chains":    len(report.Orphans),
	}).Info("stream: fsck complete")

	return report, nil
}

func (fs *Filesystem) checkBucket(bucket petastore.BlobID) (*Report, error) {
	sub := &Report{}

	err := fs.dir.WalkBucket(bucket, func(blockID petastore.BlobID, slot int, entry directory.FileEntry) error {
		violations, err := fs.checkChain(entry.ControlBlob)
		if err != nil {
			sub.TypeErrors = append(sub.TypeErrors, err.Error())
			return nil
		}
		if len(violations) == 0 {
			sub.FilesOK++
		} else {
			sub.Linkage = append(sub.Linkage, violations...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (fs *Filesystem) checkChain(first petastore.BlobID) ([]LinkageViolation, error) {
	var violations []LinkageViolation

	cur, err := control.Open(fs.store, first, fs.layout.VerifyChecksums)
	if err != nil {
		return nil, err
	}

	var expectStart uint64
	seen := map[petastore.BlobID]bool{}
	for {
		if seen[cur.ID()] {
			violations = append(violations, LinkageViolation{Block: cur.ID(), Issue: "cycle detected in control chain"})
			break
		}
		seen[cur.ID()] = true

		if cur.Start() != expectStart {
			violations = append(violations, LinkageViolation{
				Block: cur.ID(),
				Issue: "start field is not strictly increasing by 1 from 0",
			})
		}
		expectStart++

		next := cur.Header().Next
		if next == 0 {
			break
		}
		nextBlock, err := control.Open(fs.store, next, fs.layout.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		if nextBlock.Header().Prev != cur.ID() {
			violations = append(violations, LinkageViolation{Block: cur.ID(), Issue: "next.prev does not point back"})
		}
		cur = nextBlock
	}

	return violations, nil
}
