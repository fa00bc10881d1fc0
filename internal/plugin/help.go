package plugin

const MJHelp = `MJP插件帮助：

1. 生成图片：
   #mjp [提示词] (使用Midjourney)
   #niji [提示词] (使用Niji Journey)
   例：#mjp 一只可爱的猫咪
   例：#niji 一只可爱的动漫风格猫咪

2. 图片操作：
   #[操作][位置] [任务ID]
   操作：放大、微调、重绘
   位置：左上、右上、左下、右下
   例：#放大左上 1234567890
   例：#微调右下 1234567890
   例：#重绘 1234567890
   不填任务ID时使用你最近一次生成的任务（7天内有效）

3. 设置（仅限主人）：
   #mjp设置apikey [API密钥]
   #mjp设置apibaseurl [API基础URL] （不带/v1）
   #mjp设置翻译key [翻译API密钥]
   #mjp设置翻译baseurl [翻译API基础URL] （不带/v1）
   #mjp设置翻译模型 [翻译模型名称]
   #mjp设置翻译开关 [开/关]

4. 切换模式（仅限主人）：
   #mjp开启快速模式
   #mjp开启慢速模式

5. 显示帮助：
   #mjp帮助

注意：使用前请确保已正确设置所有必要的API密钥和基础URL。`

const SFHelp = `SF插件设置帮助：
1. 设置画图API Key：#sf设置画图key [值]
2. 设置翻译模型：#sf设置翻译模型 [模型名]
3. 开关提示词生成：#sf设置生成提示词 开/关
4. 设置推理步数：#sf设置推理步数 [值]
5. 设置ss转发模式：#sf设置ss图片模式 开/关
6. 设置Gemini Key：#sf设置ggkey [值]（多个用逗号分隔）
7. 设置Gemini URL：#sf设置ggbaseurl [值]
8. 设置gg转发模式：#sf设置gg图片模式 开/关
9. 设置ss接口：#sf设置翻译baseurl [值] / #sf设置翻译key [值]
10. 查看帮助：#sf设置帮助

绘图参数：--steps 步数 --seed 种子 --size 宽x高 --model 模型 --no 负面提示词
注意：设置命令仅限主人使用。
可用别名：#flux #sf画图 #sf绘图 #sf绘画`
