package util

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MapBounded 对 inputs 中的每个元素调用 fn，同一时刻最多有 limit 个调用在执行。
// 结果按输入顺序返回，与完成顺序无关。
//
// MapBounded 不会吞掉或重试错误：第一个错误会取消其余调用的 ctx 并被返回。
// 需要“降级继续”语义的调用方应在 fn 内部处理失败并返回 nil 错误。
func MapBounded[In, Out any](ctx context.Context, inputs []In, limit int, fn func(ctx context.Context, i int, in In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}
	if limit < 1 {
		limit = 1
	}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, in := range inputs {
		eg.Go(func() error {
			out, err := fn(gCtx, i, in)
			if err != nil {
				return err
			}
			// 每个 goroutine 只写自己的下标，不需要加锁。
			results[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ForEachBounded 是 MapBounded 的无返回值版本。
func ForEachBounded[In any](ctx context.Context, inputs []In, limit int, fn func(ctx context.Context, i int, in In) error) error {
	_, err := MapBounded(ctx, inputs, limit, func(ctx context.Context, i int, in In) (struct{}, error) {
		return struct{}{}, fn(ctx, i, in)
	})
	return err
}
