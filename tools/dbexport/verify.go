package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tphakala/ecosort/internal/datastore"
)

// Verify compares every listed session between source and target: the
// taxonomy, the item order, the labels and the raw media bytes.
func Verify(ctx context.Context, source, target datastore.Interface, ids []string) error {
	for _, id := range ids {
		want, err := source.FetchByID(ctx, id)
		if err != nil {
			return err
		}
		got, err := target.FetchByID(ctx, id)
		if err != nil {
			return err
		}
		if err := compare(want, got); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
	}
	return nil
}

func compare(want, got *datastore.Session) error {
	if want.State != got.State || want.ProcessingMode != got.ProcessingMode || want.ModelVersion != got.ModelVersion {
		return fmt.Errorf("session fields differ")
	}
	if len(want.Classes()) != len(got.Classes()) {
		return fmt.Errorf("taxonomy has %d classes, want %d", len(got.Classes()), len(want.Classes()))
	}
	if len(want.Items) != len(got.Items) {
		return fmt.Errorf("%d items, want %d", len(got.Items), len(want.Items))
	}
	for i := range want.Items {
		w, g := &want.Items[i], &got.Items[i]
		switch {
		case w.ID != g.ID:
			return fmt.Errorf("item %d is %s, want %s", i, g.ID, w.ID)
		case !sameLabel(w.PredictedLabelID, g.PredictedLabelID):
			return fmt.Errorf("item %s predicted label differs", w.ID)
		case !sameLabel(w.ActualLabelID, g.ActualLabelID):
			return fmt.Errorf("item %s actual label differs", w.ID)
		case !bytes.Equal(w.Raw, g.Raw):
			return fmt.Errorf("item %s media differs", w.ID)
		}
	}
	return nil
}

func sameLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
