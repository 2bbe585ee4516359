package pageable

import "context"

type ctxKeyItemProcessor struct{}

// WithItemProcessor makes ItemsOnPage pass every item of the page through processor,
// for example to decorate items for presentation. Cached views keep the unprocessed items.
func WithItemProcessor[T any](ctx context.Context, processor func(ctx context.Context, item T) (T, error)) context.Context {
	return context.WithValue(ctx, ctxKeyItemProcessor{}, processor)
}

func GetItemProcessor[T any](ctx context.Context) func(ctx context.Context, item T) (T, error) {
	processor, _ := ctx.Value(ctxKeyItemProcessor{}).(func(ctx context.Context, item T) (T, error))
	return processor
}

// ProcessItems applies the item processor of ctx, if any.
func ProcessItems[T any](ctx context.Context, items []T) ([]T, error) {
	processor := GetItemProcessor[T](ctx)
	if processor == nil {
		return items, nil
	}
	processed := make([]T, len(items))
	for i, item := range items {
		v, err := processor(ctx, item)
		if err != nil {
			return nil, err
		}
		processed[i] = v
	}
	return processed, nil
}
