package classifier

import "github.com/p-n-ai/pai-homework/internal/taxonomy"

const (
	keyPhraseBonus = 100
	keywordBonus   = 20
	conceptBonus   = 15
	minKeywordLen  = 2
)

// gradeBonuses awards points by school-year distance between the query grade
// and the candidate's grade. Distances beyond the table score nothing.
var gradeBonuses = []struct {
	Distance int
	Bonus    int
}{
	{0, 50},
	{1, 25},
	{2, 10},
}

// keyPhrases are named concepts specific enough that a shared occurrence in
// the question and the candidate settles the match.
var keyPhrases = []string{
	"二次函数", "抛物线", "椭圆", "双曲线", "等差数列", "等比数列",
	"导数", "积分", "概率", "统计", "向量", "矩阵", "极限",
}

var stopWords = map[string]bool{
	"的": true, "是": true, "在": true, "和": true, "与": true, "或": true, "但": true,
	"如果": true, "因为": true, "所以": true, "那么": true, "这": true, "那": true, "之": true, "中": true,
}

// conceptRule fires when Concept occurs in the candidate text; every term
// found in the question adds conceptBonus.
type conceptRule struct {
	Concept string
	Terms   []string
}

var conceptRules = []conceptRule{
	{"不等式", []string{"不等式", "大于", "小于", "不小于", "不大于", "区间", "解集"}},
	{"数列", []string{"数列", "等差", "等比", "通项", "前n项和", "递推", "数列求和"}},
	{"概率", []string{"概率", "随机", "可能", "组合", "排列", "样本空间", "事件"}},
	{"几何", []string{"几何", "图形", "三角形", "四边形", "圆", "立体", "平面", "角度"}},
	{"立体几何", []string{"立体", "空间", "向量", "三维", "体积", "表面积", "投影"}},
	{"解析几何", []string{"坐标", "方程", "直线", "圆", "抛物线", "椭圆", "双曲线", "距离"}},
	{"函数", []string{"函数", "定义域", "值域", "单调", "奇偶", "周期", "最值"}},
	{"二次函数", []string{"二次", "抛物线", "顶点", "对称轴", "开口", "判别式"}},
	{"三角函数", []string{"三角", "正弦", "余弦", "正切", "角度", "弧度", "周期"}},
	{"导数", []string{"导数", "微商", "斜率", "极值", "最值", "单调", "切线"}},
	{"积分", []string{"积分", "面积", "体积", "原函数", "不定积分", "定积分"}},
	{"方程", []string{"方程", "解", "未知数", "等式", "移项"}},
	{"解法", []string{"求解", "解方程", "解得", "解出"}},
}

// mathSymbols gate the symbol rules: none of them apply unless the question
// contains at least one.
var mathSymbols = []string{
	"=", "+", "-", "*", "/", "²", "³", "√", "∫", "∑", "∏", "∞", "≈",
	"≤", "≥", "≠", "∈", "∪", "∩", "⊂", "⊃", "→", "←",
}

// symbolRule adds Bonus when the candidate mentions any of Candidate and the
// question contains any of Text. An empty Text list always matches.
type symbolRule struct {
	Candidate []string
	Text      []string
	Bonus     int
	Reason    string
}

var symbolRules = []symbolRule{
	{Candidate: []string{"函数", "方程", "不等式"}, Bonus: 10, Reason: "数学符号: 函数/方程/不等式"},
	{Candidate: []string{"几何"}, Text: []string{"∠", "△", "○", "□"}, Bonus: 10, Reason: "数学符号: 几何图形"},
	{Candidate: []string{"数列"}, Text: []string{"n"}, Bonus: 10, Reason: "数学符号: 数列记号"},
}

// genericNames are the "thinking method" points offered when nothing matches.
var genericNames = []string{
	"数学思想-函数与方程",
	"数学思想-数形结合",
	"数学思想-转化与化归",
	"数学思想-分类讨论",
}

// specialTerms map advanced topics to the knowledge point worth creating for them.
var specialTerms = []struct {
	Term  string
	Name  string
	Grade taxonomy.GradeLevel
}{
	{"椭圆", "解析几何-椭圆", taxonomy.GradeSenior1},
	{"双曲线", "解析几何-双曲线", taxonomy.GradeSenior1},
	{"矩阵", "线性代数-矩阵", taxonomy.GradeSenior3},
	{"极限", "微积分-极限", taxonomy.GradeSenior3},
	{"傅里叶", "高等数学-傅里叶级数", taxonomy.GradeSenior3},
	{"拉格朗日", "高等数学-拉格朗日中值定理", taxonomy.GradeSenior3},
}
