package grading

import (
	"fmt"
	"strings"
)

const latexRules = `- 如果涉及数学公式，请使用LaTeX格式，例如：$x^2 + y^2 = r^2$
- 分数使用 $\frac{a}{b}$ 格式，根号使用 $\sqrt{x}$ 格式
- 求和使用 $\sum$ 格式，积分使用 $\int$ 格式
- 希腊字母使用 $\alpha$, $\beta$, $\pi$, $\theta$ 等格式`

const replyFormat = `请严格按照以下JSON格式返回：
{
    "student_answer": "学生给出的答案（含LaTeX格式数学公式）",
    "is_correct": true/false,
    "error_analysis": "错误原因分析（如果正确则为空）",
    "feedback": "给学生反馈和建议",
    "solution_quality": "解题质量评价，包括步骤完整性和方法正确性"
}`

func writeQuestion(b *strings.Builder, question, answer, steps string) {
	fmt.Fprintf(b, "题目：%s\n", question)
	fmt.Fprintf(b, "标准答案：%s\n", answer)
	fmt.Fprintf(b, "详细解题步骤：%s\n", steps)
}

// TextAnswerPrompt asks the model to judge a typed answer.
func TextAnswerPrompt(question, answer, steps, studentText string) string {
	var b strings.Builder
	b.WriteString("请分析学生的文字答题情况。\n\n")
	writeQuestion(&b, question, answer, steps)
	fmt.Fprintf(&b, "学生答案：%s\n\n", studentText)
	b.WriteString(`请判断：
1. 学生的答案是否正确
2. 如果正确，答案的质量如何，是否按照标准解题步骤进行
3. 如果错误，分析错误原因，指出学生在哪个步骤出了问题
4. 给出学习建议和反馈，帮助学生掌握正确的解题方法

重要说明：
`)
	b.WriteString(latexRules)
	b.WriteString("\n- 如果学生跳过了重要步骤或方法不正确，请明确指出\n\n")
	b.WriteString(replyFormat)
	return b.String()
}

// ImageAnswerPrompt asks the model to judge a photographed answer. The
// model must first confirm the image actually answers this question.
func ImageAnswerPrompt(question, answer, steps string) string {
	var b strings.Builder
	b.WriteString("请分析学生的答题情况。\n\n")
	writeQuestion(&b, question, answer, steps)
	b.WriteString(`
请查看学生给出的答案图片，严格按照以下标准进行判断：

第一优先级：答案相关性检查
学生上传的图片是否确实是针对这道题目的答案？以下情况必须判定为错误：
1. 图片内容与题目无关（风景、人物、动物、食物等）
2. 图片只有涂鸦或符号，没有解题过程
3. 图片是其他科目或其他题目的答案
4. 空白纸张，或模糊到无法识别
5. 网络图片、截图、聊天记录等非手写内容

第二优先级：答案正确性检查
只有确认图片是本题的相关答案后，才判断对错，并分析错误原因或评价答案质量。
如果图片与题目无关，is_correct必须为false，并在error_analysis中说明图片内容与题目要求的差异。

格式要求：
`)
	b.WriteString(latexRules)
	b.WriteString("\n\n")
	b.WriteString(replyFormat)
	return b.String()
}
