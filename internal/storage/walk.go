package storage

import (
	"context"
	"fmt"
)

// Walk pages through every record, calling fn once per page.
func Walk(ctx context.Context, st Store, pageSize int, fn func(page []Record) error) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := st.List(ctx, cursor, pageSize)
		if err != nil {
			return err
		}
		if len(page.Records) > 0 {
			if err := fn(page.Records); err != nil {
				return err
			}
		}
		if page.Next == "" {
			return nil
		}
		if page.Next == cursor {
			return fmt.Errorf("storage: list cursor %q did not advance", cursor)
		}
		cursor = page.Next
	}
}
