package tile_manager

import "github.com/GrainArc/SouceGlobe/gpu"

const tileVertexShader = `
attribute vec3 vertex;
attribute vec2 tcoord;
uniform mat4 modelViewMatrix;
uniform mat4 projectionMatrix;
uniform vec4 texTransform;
varying vec2 texCoord;
void main(void)
{
	gl_Position = projectionMatrix * modelViewMatrix * vec4(vertex, 1.0);
	texCoord = tcoord * texTransform.xy + texTransform.zw;
}
`

const tileFragmentShader = `
precision highp float;
varying vec2 texCoord;
uniform sampler2D colorTexture;
uniform bool wireframe;
void main(void)
{
	if (wireframe) {
		gl_FragColor = vec4(1.0, 1.0, 1.0, 1.0);
	} else {
		gl_FragColor = texture2D(colorTexture, texCoord);
	}
}
`

// NewTileProgram 创建瓦片着色器程序
func NewTileProgram(device gpu.Device) (gpu.Program, error) {
	return device.CreateProgram(tileVertexShader, tileFragmentShader)
}
