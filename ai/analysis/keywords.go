package analysis

// Keyword tables for the rule engine. Slices, not maps, so scoring walks
// them in a fixed order and identical inputs always produce identical
// output (ties go to the earlier entry).

type keywordSet struct {
	label    string
	keywords []string
}

var occupationKeywords = []keywordSet{
	{"程序员", []string{"编程", "代码", "bug", "调试", "开发", "算法", "github", "python", "java"}},
	{"学生", []string{"作业", "考试", "老师", "同学", "课程", "学校", "论文", "考研"}},
	{"设计师", []string{"设计", "UI", "UX", "配色", "排版", "ps", "ai", "figma"}},
	{"产品经理", []string{"需求", "产品", "用户体验", "功能", "迭代", "PRD"}},
	{"教师", []string{"学生", "教学", "课堂", "备课", "教案", "家长"}},
	{"医生", []string{"患者", "病历", "诊断", "治疗", "医院", "科室"}},
	{"销售", []string{"客户", "业绩", "销售", "订单", "市场", "推广"}},
	{"自媒体", []string{"粉丝", "流量", "视频", "文章", "up主", "博主"}},
	{"运营", []string{"用户运营", "活动", "增长", "拉新", "留存", "转化"}},
}

var interestKeywords = []keywordSet{
	{"科技", []string{"科技", "AI", "人工智能", "机器学习", "编程", "数码", "电子产品"}},
	{"游戏", []string{"游戏", "打游戏", "王者", "吃鸡", "英雄联盟", "原神", "steam"}},
	{"动漫", []string{"动漫", "番剧", "二次元", "B站", "追番", "漫画", "cos"}},
	{"音乐", []string{"音乐", "歌曲", "听歌", "音乐会", "演唱会", "乐队"}},
	{"阅读", []string{"读书", "小说", "书籍", "阅读", "看书", "文学"}},
	{"运动", []string{"运动", "健身", "跑步", "篮球", "足球", "游泳", "瑜伽"}},
	{"旅游", []string{"旅游", "旅行", "景点", "度假", "出国", "打卡"}},
	{"美食", []string{"美食", "吃货", "火锅", "烧烤", "餐厅", "做饭", "烹饪"}},
	{"电影", []string{"电影", "影院", "看电影", "影视", "导演", "演员"}},
	{"摄影", []string{"摄影", "拍照", "相机", "镜头", "照片", "后期"}},
}

var ageIndicators = []keywordSet{
	{"18-24", []string{"大学", "考研", "毕业", "校园", "室友", "宿舍", "社团"}},
	{"25-30", []string{"工作", "加班", "同事", "跳槽", "职场", "升职"}},
	{"31-40", []string{"结婚", "孩子", "房贷", "车贷", "家庭", "父母"}},
	{"40+", []string{"养生", "健康", "退休", "保健", "儿女"}},
}

var (
	maleIndicators   = []string{"哥们", "兄弟", "老铁", "篮球", "足球", "游戏", "码农"}
	femaleIndicators = []string{"姐妹", "小姐姐", "护肤", "化妆", "逛街", "包包", "美甲"}
)

// Education checks run top to bottom; the first level with any hit wins.
var educationKeywords = []keywordSet{
	{"博士", []string{"博士", "PhD", "读博", "博导"}},
	{"硕士", []string{"硕士", "研究生", "考研", "导师"}},
	{"本科", []string{"本科", "大学", "学士", "大学生"}},
	{"专科", []string{"专科", "大专"}},
}

var (
	formalIndicators = []string{"请问", "您好", "谢谢", "麻烦", "不好意思"}
	casualIndicators = []string{"哈哈", "嘿嘿", "啊", "呀", "哦", "嗯"}
)

var (
	positiveWords = []string{"开心", "高兴", "快乐", "哈哈", "喜欢", "爱", "棒", "好", "赞", "不错", "太好了"}
	negativeWords = []string{"难过", "伤心", "生气", "烦", "累", "讨厌", "糟糕", "不好", "失望"}
	anxiousWords  = []string{"焦虑", "紧张", "担心", "害怕", "不安", "压力"}
)
