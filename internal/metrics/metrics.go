// Package metrics 逐步标签的分类指标（准确率、加权精确率/召回率/F1）
package metrics

import (
	"fmt"
	"sort"
)

// Report 分类指标
type Report struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// String 日志格式
func (r Report) String() string {
	return fmt.Sprintf("Validation Accuracy: %.2f%%, Precision: %.4f, Recall: %.4f, F1: %.4f",
		r.Accuracy*100, r.Precision, r.Recall, r.F1)
}

// Confusion 混淆矩阵累加器（非并发安全）
type Confusion struct {
	counts map[[2]int]int // [真实, 预测] → 次数
	total  int
}

// NewConfusion 创建混淆矩阵
func NewConfusion() *Confusion {
	return &Confusion{counts: make(map[[2]int]int)}
}

// Add 累加一组等长的真实/预测标签
func (c *Confusion) Add(truth, predicted []int) error {
	if len(truth) != len(predicted) {
		return fmt.Errorf("length mismatch: %d true labels, %d predictions", len(truth), len(predicted))
	}
	for i := range truth {
		c.counts[[2]int{truth[i], predicted[i]}]++
	}
	c.total += len(truth)
	return nil
}

// Total 已累加的样本数
func (c *Confusion) Total() int {
	return c.total
}

// Report 计算指标
//
// 精确率/召回率/F1 按真实标签中每类的样本数加权平均；
// 某类没有被预测过时其精确率记为 0。
func (c *Confusion) Report() Report {
	if c.total == 0 {
		return Report{}
	}

	support := make(map[int]int)
	predicted := make(map[int]int)
	correct := make(map[int]int)
	for k, n := range c.counts {
		support[k[0]] += n
		predicted[k[1]] += n
		if k[0] == k[1] {
			correct[k[0]] += n
		}
	}

	classes := make([]int, 0, len(support))
	for class := range support {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	r := Report{Support: c.total}
	totalCorrect := 0
	for _, class := range classes {
		tp := correct[class]
		totalCorrect += tp
		weight := float64(support[class]) / float64(c.total)

		var precision, recall, f1 float64
		if predicted[class] > 0 {
			precision = float64(tp) / float64(predicted[class])
		}
		recall = float64(tp) / float64(support[class])
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		r.Precision += weight * precision
		r.Recall += weight * recall
		r.F1 += weight * f1
	}
	r.Accuracy = float64(totalCorrect) / float64(c.total)
	return r
}
